package auth

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore
const (
	EnvIdentifier = "BSKY_ID"
	EnvPassword   = "BSKY_PASSWD"
)

// EnvironmentStore implements CredentialStore using environment variables.
// It is read only and yields a password, never a session.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment login when it matches identifier.
// An empty identifier matches whatever BSKY_ID holds.
func (e *EnvironmentStore) Retrieve(identifier string) (*Account, error) {
	id := os.Getenv(EnvIdentifier)
	password := os.Getenv(EnvPassword)

	if id == "" || password == "" {
		return nil, ErrCredentialsNotFound
	}
	if identifier != "" && identifier != id {
		return nil, ErrCredentialsNotFound
	}

	return &Account{
		Identifier:   id,
		Password:     password,
		LastModified: time.Time{},
	}, nil
}

// List returns a single account if environment variables are set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(identifier string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(identifier string) bool {
	_, err := e.Retrieve(identifier)
	return err == nil
}
