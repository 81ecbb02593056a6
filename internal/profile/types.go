package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("profile not found")
	ErrMalformed = errors.New("malformed profile document")
)

type Profile struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Email       string     `json:"email"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
}

func (p Profile) Clone() Profile {
	if p.DateOfBirth != nil {
		dob := *p.DateOfBirth
		p.DateOfBirth = &dob
	}
	return p
}

// document is the stored shape; the identity lives in the key, not the body.
type document struct {
	DisplayName *string    `json:"display_name"`
	Email       *string    `json:"email"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
}

func Encode(p Profile) ([]byte, error) {
	doc := document{
		DisplayName: &p.DisplayName,
		Email:       &p.Email,
		DateOfBirth: p.DateOfBirth,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode profile document: %w", err)
	}
	return b, nil
}

// Decode parses a stored document. Any shape problem wraps ErrMalformed.
func Decode(id string, raw []byte) (Profile, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.DisplayName == nil || doc.Email == nil {
		return Profile{}, fmt.Errorf("%w: display_name and email are required", ErrMalformed)
	}
	return Profile{
		ID:          id,
		DisplayName: *doc.DisplayName,
		Email:       *doc.Email,
		DateOfBirth: doc.DateOfBirth,
	}, nil
}

func validateKey(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("profile id is required")
	}
	return nil
}
