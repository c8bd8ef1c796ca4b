package bsky

import (
	"fmt"
	"strings"
)

// Session holds the tokens of an authenticated account
type Session struct {
	Handle     string `json:"handle"`
	DID        string `json:"did"`
	AccessJWT  string `json:"accessJwt"`
	RefreshJWT string `json:"refreshJwt"`
	// PDS is the personal data server that issued the tokens.
	PDS string `json:"pds"`
}

const sessionFields = 5

// String encodes the session as handle|did|accessJwt|refreshJwt|pds.
func (s Session) String() string {
	return strings.Join([]string{s.Handle, s.DID, s.AccessJWT, s.RefreshJWT, s.PDS}, "|")
}

// Valid reports whether the session carries the fields needed for requests
func (s Session) Valid() bool {
	return s.DID != "" && s.AccessJWT != "" && s.RefreshJWT != ""
}

// ParseSession decodes the form produced by Session.String.
func ParseSession(raw string) (Session, error) {
	parts := strings.Split(strings.TrimSpace(raw), "|")
	if len(parts) != sessionFields {
		return Session{}, fmt.Errorf("invalid session string: expected %d fields, got %d", sessionFields, len(parts))
	}

	s := Session{
		Handle:     parts[0],
		DID:        parts[1],
		AccessJWT:  parts[2],
		RefreshJWT: parts[3],
		PDS:        parts[4],
	}
	if !s.Valid() {
		return Session{}, fmt.Errorf("invalid session string: missing did or tokens")
	}
	return s, nil
}
