package auth

import (
	"context"
	"errors"
	"fmt"
	"os"

	"bskyarchive/pkg/bsky"
	"bskyarchive/pkg/logger"
)

// Connector turns stored sessions or passwords into authenticated clients
type Connector struct {
	manager   *Manager
	newClient func() *bsky.Client
	logger    logger.Logger
}

// NewConnector creates a connector. newClient builds an unauthenticated client.
func NewConnector(manager *Manager, newClient func() *bsky.Client, log logger.Logger) *Connector {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Connector{manager: manager, newClient: newClient, logger: log}
}

// Connect returns a client authenticated as identifier. A stored session is
// reused when the PDS still accepts it; otherwise the password (argument or
// BSKY_PASSWD) is used to log in and the new session is stored. An empty
// identifier selects the most recently used account.
func (c *Connector) Connect(ctx context.Context, identifier, password string) (*bsky.Client, error) {
	identifier, stored, err := c.resolve(identifier)
	if err != nil {
		return nil, err
	}

	client := c.newClient()
	client.OnSessionUpdate(c.persister(identifier))

	if stored != nil && stored.HasSession() {
		client.SetSession(stored.Session)
		_, err := client.GetSession(ctx)
		if err == nil {
			c.logger.DebugWithFields("reusing stored session", map[string]interface{}{
				"identifier": identifier,
				"handle":     stored.Session.Handle,
			})
			return client, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.logger.WithError(err).WarnWithFields("stored session rejected", map[string]interface{}{
			"identifier": identifier,
		})
		client = c.newClient()
		client.OnSessionUpdate(c.persister(identifier))
	}

	if password == "" && stored != nil {
		password = stored.Password
	}
	if password == "" {
		password = os.Getenv(EnvPassword)
	}
	if password == "" {
		return nil, fmt.Errorf("no valid session for %s and no password given: %w", identifier, ErrCredentialsNotFound)
	}

	if _, err := client.CreateSession(ctx, identifier, password); err != nil {
		return nil, err
	}
	return client, nil
}

// Login always authenticates with the password and stores the new session.
func (c *Connector) Login(ctx context.Context, identifier, password string) (*bsky.Client, error) {
	if identifier == "" {
		identifier = os.Getenv(EnvIdentifier)
	}
	if identifier == "" || password == "" {
		return nil, fmt.Errorf("login requires an identifier and a password: %w", ErrInvalidCredentials)
	}

	client := c.newClient()
	client.OnSessionUpdate(c.persister(identifier))
	if _, err := client.CreateSession(ctx, identifier, password); err != nil {
		return nil, err
	}
	return client, nil
}

// Logout revokes the stored session of identifier on the PDS, best effort,
// and removes it locally.
func (c *Connector) Logout(ctx context.Context, identifier string) error {
	stored, err := c.manager.Retrieve(identifier)
	if err != nil {
		return err
	}

	if stored.HasSession() {
		client := c.newClient()
		client.SetSession(stored.Session)
		if err := client.DeleteSession(ctx); err != nil {
			c.logger.WithError(err).WarnWithFields("failed to revoke session on server", map[string]interface{}{
				"identifier": identifier,
			})
		}
	}
	return c.manager.Delete(identifier)
}

// resolve picks the identifier to use and its stored account, if any.
func (c *Connector) resolve(identifier string) (string, *Account, error) {
	if identifier == "" {
		account, err := c.manager.LastUser()
		if err != nil {
			return "", nil, fmt.Errorf("no user given and no stored session: %w", err)
		}
		return account.Identifier, account, nil
	}

	account, err := c.manager.Retrieve(identifier)
	if err != nil {
		if errors.Is(err, ErrCredentialsNotFound) {
			return identifier, nil, nil
		}
		return "", nil, err
	}
	return identifier, account, nil
}

// persister stores every new session issued for identifier.
func (c *Connector) persister(identifier string) func(bsky.Session) {
	return func(s bsky.Session) {
		if err := c.manager.Store(&Account{Identifier: identifier, Session: s}); err != nil {
			c.logger.WithError(err).WarnWithFields("failed to store session", map[string]interface{}{
				"identifier": identifier,
			})
		}
	}
}
