package auth

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"bskyarchive/pkg/bsky"
)

// Account is a stored Bluesky login
type Account struct {
	// Identifier is the login name used to create the session (handle or email).
	Identifier string       `json:"identifier"`
	Session    bsky.Session `json:"session"`
	// Password is only ever populated from the environment and never persisted.
	Password     string    `json:"-"`
	LastModified time.Time `json:"last_modified"`
}

// HasSession reports whether the account carries usable tokens
func (a *Account) HasSession() bool {
	return a != nil && a.Session.Valid()
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves credentials for a given account
	Store(account *Account) error

	// Retrieve gets credentials for a specific identifier
	Retrieve(identifier string) (*Account, error)

	// List returns all stored accounts
	List() ([]*Account, error)

	// Delete removes credentials for a specific identifier
	Delete(identifier string) error

	// Exists checks if credentials exist for an identifier
	Exists(identifier string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager keeping sessions under tokensPath.
// The system keyring is preferred when available.
func NewManager(tokensPath string) (*Manager, error) {
	var stores []CredentialStore

	// Try keyring first (system keychain)
	keyringStore, err := NewKeyringStore()
	if err == nil {
		stores = append(stores, keyringStore)
	}

	// Always add encrypted file store as fallback
	encryptedStore, err := NewEncryptedFileStore(filepath.Join(tokensPath, "sessions.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	// Add environment store as last resort
	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a Manager over the given stores, in priority order
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// UsesKeyring reports whether the system keychain is part of the store chain
func (m *Manager) UsesKeyring() bool {
	for _, store := range m.stores {
		if _, ok := store.(*KeyringStore); ok {
			return true
		}
	}
	return false
}

// Store saves credentials using the first available store
func (m *Manager) Store(account *Account) error {
	if account == nil || account.Identifier == "" {
		return errors.New("identifier is required")
	}
	if !account.Session.Valid() {
		return errors.New("a valid session is required")
	}

	account.LastModified = time.Now()

	// Try each store in order
	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(account); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(identifier string) (*Account, error) {
	for _, store := range m.stores {
		if account, err := store.Retrieve(identifier); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w for user: %s", ErrCredentialsNotFound, identifier)
}

// List returns all stored accounts from all stores, newest first
func (m *Manager) List() ([]*Account, error) {
	accountMap := make(map[string]*Account)

	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			// Use the most recently modified version
			if existing, ok := accountMap[account.Identifier]; !ok || account.LastModified.After(existing.LastModified) {
				accountMap[account.Identifier] = account
			}
		}
	}

	result := make([]*Account, 0, len(accountMap))
	for _, account := range accountMap {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].LastModified.Equal(result[j].LastModified) {
			return result[i].Identifier < result[j].Identifier
		}
		return result[i].LastModified.After(result[j].LastModified)
	})

	return result, nil
}

// LastUser returns the account whose session was stored most recently.
// Without any stored session it falls back to environment credentials.
func (m *Manager) LastUser() (*Account, error) {
	accounts, err := m.List()
	if err != nil {
		return nil, err
	}

	var fallback *Account
	for _, account := range accounts {
		if account.HasSession() {
			return account, nil
		}
		if fallback == nil && account.Password != "" {
			fallback = account
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, ErrCredentialsNotFound
}

// Delete removes credentials from all stores
func (m *Manager) Delete(identifier string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(identifier); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil && !errors.Is(lastErr, ErrCredentialsNotFound) && !errors.Is(lastErr, ErrStoreUnavailable) {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for user: %s", ErrCredentialsNotFound, identifier)
	}

	return nil
}

// SanitizeAccount creates a copy of the account with sensitive data masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}

	masked := *account
	masked.Session.AccessJWT = maskString(account.Session.AccessJWT)
	masked.Session.RefreshJWT = maskString(account.Session.RefreshJWT)
	masked.Password = ""
	return &masked
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
