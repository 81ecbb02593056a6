package profile

import (
	"errors"
	"testing"
	"time"
)

func TestEncodeDecodeKeepsIdentityOutOfDocument(t *testing.T) {
	dob := time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC)
	raw, err := Encode(Profile{ID: "u-1", DisplayName: "Ada", Email: "a@b.com", DateOfBirth: &dob})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	want := `{"display_name":"Ada","email":"a@b.com","date_of_birth":"1990-05-17T00:00:00Z"}`
	if string(raw) != want {
		t.Fatalf("Encode() = %s, want %s", raw, want)
	}

	got, err := Decode("u-1", raw)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got.ID != "u-1" || got.DisplayName != "Ada" || got.DateOfBirth == nil || !got.DateOfBirth.Equal(dob) {
		t.Fatalf("unexpected decoded profile: %+v", got)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `not-json`},
		{name: "missing email", raw: `{"display_name":"Ada"}`},
		{name: "wrong type", raw: `{"display_name":42,"email":"a@b.com"}`},
		{name: "bad date", raw: `{"display_name":"Ada","email":"a@b.com","date_of_birth":"yesterday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode("u-1", []byte(tt.raw))
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestCloneCopiesDateOfBirth(t *testing.T) {
	dob := time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC)
	p := Profile{ID: "u-1", DateOfBirth: &dob}
	cp := p.Clone()
	*cp.DateOfBirth = cp.DateOfBirth.AddDate(1, 0, 0)
	if !p.DateOfBirth.Equal(dob) {
		t.Fatalf("expected original date untouched, got %v", p.DateOfBirth)
	}
}
