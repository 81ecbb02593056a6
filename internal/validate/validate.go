package validate

import (
	"fmt"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	MinPasswordLength   = 6
	MaxDisplayNameRunes = 64
)

var strict = bluemonday.StrictPolicy()

// Error reports the first field that failed a form check.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

type Registration struct {
	DisplayName string
	Email       string
	Password    string
}

func Email(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &Error{Field: "email", Reason: "is required"}
	}
	if strings.IndexFunc(email, unicode.IsSpace) >= 0 {
		return &Error{Field: "email", Reason: "must not contain spaces"}
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return &Error{Field: "email", Reason: "must contain a single @"}
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return &Error{Field: "email", Reason: "domain must contain a dot"}
	}
	for _, label := range labels {
		if label == "" {
			return &Error{Field: "email", Reason: "domain has an empty label"}
		}
	}
	return nil
}

func password(pw string) error {
	if pw == "" {
		return &Error{Field: "password", Reason: "is required"}
	}
	if utf8.RuneCountInString(pw) < MinPasswordLength {
		return &Error{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", MinPasswordLength)}
	}
	return nil
}

// DisplayName strips markup and surrounding space and returns the cleaned name.
func DisplayName(name string) (string, error) {
	cleaned := strings.TrimSpace(html.UnescapeString(strict.Sanitize(name)))
	if cleaned == "" {
		return "", &Error{Field: "display_name", Reason: "is required"}
	}
	if utf8.RuneCountInString(cleaned) > MaxDisplayNameRunes {
		return "", &Error{Field: "display_name", Reason: fmt.Sprintf("must be at most %d characters", MaxDisplayNameRunes)}
	}
	return cleaned, nil
}

func SignIn(email, pw string) error {
	if err := Email(email); err != nil {
		return err
	}
	return password(pw)
}

func NewRegistration(displayName, email, pw string) (Registration, error) {
	name, err := DisplayName(displayName)
	if err != nil {
		return Registration{}, err
	}
	if err := Email(email); err != nil {
		return Registration{}, err
	}
	if err := password(pw); err != nil {
		return Registration{}, err
	}
	return Registration{
		DisplayName: name,
		Email:       strings.TrimSpace(email),
		Password:    pw,
	}, nil
}
