package bsky

import (
	"context"
	"fmt"
	"strings"
)

// CreateSession logs in with an identifier (handle, DID or email) and an
// app password, and installs the new session.
func (c *Client) CreateSession(ctx context.Context, identifier, password string) (Session, error) {
	if identifier == "" || password == "" {
		return Session{}, fmt.Errorf("identifier and password are required")
	}

	var resp sessionResponse
	req := createSessionRequest{Identifier: identifier, Password: password}
	if err := c.procedure(ctx, NSIDCreateSession, req, &resp, authNone); err != nil {
		return Session{}, fmt.Errorf("failed to create session for %s: %w", identifier, err)
	}

	s := Session{
		Handle:     resp.Handle,
		DID:        resp.DID,
		AccessJWT:  resp.AccessJWT,
		RefreshJWT: resp.RefreshJWT,
		PDS:        resp.DIDDoc.pdsEndpoint(),
	}
	if s.PDS == "" {
		s.PDS = c.service
	}
	s.PDS = strings.TrimRight(s.PDS, "/")

	c.updateSession(s)
	c.logger.InfoWithFields("session created", map[string]interface{}{
		"handle": s.Handle,
		"did":    s.DID,
		"pds":    s.PDS,
	})
	return s, nil
}

// RefreshSession exchanges the refresh token for a new token pair.
func (c *Client) RefreshSession(ctx context.Context) error {
	current, ok := c.Session()
	if !ok {
		return fmt.Errorf("no session to refresh")
	}

	var resp sessionResponse
	if err := c.procedure(ctx, NSIDRefreshSession, nil, &resp, authRefresh); err != nil {
		return err
	}

	next := current
	next.AccessJWT = resp.AccessJWT
	next.RefreshJWT = resp.RefreshJWT
	if resp.Handle != "" {
		next.Handle = resp.Handle
	}
	if pds := resp.DIDDoc.pdsEndpoint(); pds != "" {
		next.PDS = strings.TrimRight(pds, "/")
	}

	c.updateSession(next)
	c.logger.DebugWithFields("session refreshed", map[string]interface{}{
		"handle": next.Handle,
	})
	return nil
}

// GetSession asks the PDS to validate the current access token.
func (c *Client) GetSession(ctx context.Context) (SessionInfo, error) {
	if _, ok := c.Session(); !ok {
		return SessionInfo{}, fmt.Errorf("no session")
	}

	var info SessionInfo
	if err := c.query(ctx, NSIDGetSession, nil, &info); err != nil {
		return SessionInfo{}, err
	}
	return info, nil
}

// DeleteSession revokes the refresh token on the PDS and forgets the session.
func (c *Client) DeleteSession(ctx context.Context) error {
	if _, ok := c.Session(); !ok {
		return nil
	}
	if err := c.procedure(ctx, NSIDDeleteSession, nil, nil, authRefresh); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	return nil
}
