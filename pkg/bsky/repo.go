package bsky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rivo/uniseg"

	errs "bskyarchive/pkg/errors"
	"bskyarchive/pkg/paginate"
)

// MaxPostGraphemes is the longest post text accepted by the AppView
const MaxPostGraphemes = 300

// Support is the outcome of a capability probe
type Support int

const (
	// SupportUnknown means the probe could not decide, e.g. on a network error.
	SupportUnknown Support = iota
	SupportSupported
	SupportUnsupported
)

func (s Support) String() string {
	switch s {
	case SupportSupported:
		return "supported"
	case SupportUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// ResolveHandle returns the DID behind a handle. A DID is returned as is.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return "", errs.New(errs.ErrorTypeInvalid, 0, "empty handle")
	}
	if strings.HasPrefix(handle, "did:") {
		return handle, nil
	}

	params := url.Values{}
	params.Set("handle", handle)

	var resp resolveHandleResponse
	if err := c.query(ctx, NSIDResolveHandle, params, &resp); err != nil {
		return "", fmt.Errorf("failed to resolve handle %s: %w", handle, err)
	}
	if resp.DID == "" {
		return "", errs.New(errs.ErrorTypeParsing, http.StatusOK, "resolveHandle returned no did")
	}
	return resp.DID, nil
}

// GetProfile returns the raw profile view of actor
func (c *Client) GetProfile(ctx context.Context, actor string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("actor", actor)

	var raw json.RawMessage
	if err := c.query(ctx, NSIDGetProfile, params, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch profile of %s: %w", actor, err)
	}
	return raw, nil
}

// GetAuthorFeed returns one page of actor's posts using the configured filter.
func (c *Client) GetAuthorFeed(ctx context.Context, actor, cursor string, limit int) (paginate.Page[json.RawMessage], error) {
	params := pageParams(actor, cursor, limit)
	params.Set("filter", c.feedFilter)

	var resp feedResponse
	if err := c.query(ctx, NSIDGetAuthorFeed, params, &resp); err != nil {
		return paginate.Page[json.RawMessage]{}, err
	}
	return paginate.Page[json.RawMessage]{Records: resp.Feed, Cursor: resp.Cursor}, nil
}

// GetFollowers returns one page of accounts following actor
func (c *Client) GetFollowers(ctx context.Context, actor, cursor string, limit int) (paginate.Page[json.RawMessage], error) {
	var resp followersResponse
	if err := c.query(ctx, NSIDGetFollowers, pageParams(actor, cursor, limit), &resp); err != nil {
		return paginate.Page[json.RawMessage]{}, err
	}
	return paginate.Page[json.RawMessage]{Records: resp.Followers, Cursor: resp.Cursor}, nil
}

// GetFollows returns one page of accounts actor follows
func (c *Client) GetFollows(ctx context.Context, actor, cursor string, limit int) (paginate.Page[json.RawMessage], error) {
	var resp followsResponse
	if err := c.query(ctx, NSIDGetFollows, pageParams(actor, cursor, limit), &resp); err != nil {
		return paginate.Page[json.RawMessage]{}, err
	}
	return paginate.Page[json.RawMessage]{Records: resp.Follows, Cursor: resp.Cursor}, nil
}

// GetActorLikes returns one page of posts liked by actor
func (c *Client) GetActorLikes(ctx context.Context, actor, cursor string, limit int) (paginate.Page[json.RawMessage], error) {
	var resp feedResponse
	if err := c.query(ctx, NSIDGetActorLikes, pageParams(actor, cursor, limit), &resp); err != nil {
		return paginate.Page[json.RawMessage]{}, err
	}
	return paginate.Page[json.RawMessage]{Records: resp.Feed, Cursor: resp.Cursor}, nil
}

// ProbeLikes checks once whether likes of actor can be listed.
func (c *Client) ProbeLikes(ctx context.Context, actor string) Support {
	_, err := c.GetActorLikes(ctx, actor, "", 1)
	support := classifyProbe(err)

	fields := map[string]interface{}{
		"actor":   actor,
		"support": support.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	c.logger.DebugWithFields("likes capability probed", fields)
	return support
}

func classifyProbe(err error) Support {
	if err == nil {
		return SupportSupported
	}
	apiErr, ok := errs.As(err)
	if !ok {
		return SupportUnknown
	}
	switch {
	case apiErr.Code == http.StatusNotFound, apiErr.Code == http.StatusNotImplemented:
		return SupportUnsupported
	case apiErr.Name == errs.NameMethodNotImplemented, apiErr.Name == errs.NameInvalidRequest:
		return SupportUnsupported
	case apiErr.Type == errs.ErrorTypeUnsupported:
		return SupportUnsupported
	default:
		return SupportUnknown
	}
}

// CreatePost publishes a text post as the session's account.
func (c *Client) CreatePost(ctx context.Context, text string, langs []string) (RecordRef, error) {
	if err := ValidatePostText(text); err != nil {
		return RecordRef{}, err
	}
	s, ok := c.Session()
	if !ok {
		return RecordRef{}, errs.New(errs.ErrorTypeAuth, 0, "posting requires a session")
	}

	req := createRecordRequest{
		Repo:       s.DID,
		Collection: CollectionPost,
		Record: postRecord{
			Type:      CollectionPost,
			Text:      text,
			CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
			Langs:     langs,
		},
	}

	var ref RecordRef
	if err := c.procedure(ctx, NSIDCreateRecord, req, &ref, authAccess); err != nil {
		return RecordRef{}, fmt.Errorf("failed to create post: %w", err)
	}

	c.logger.InfoWithFields("post created", map[string]interface{}{
		"uri": ref.URI,
		"cid": ref.CID,
	})
	return ref, nil
}

// ValidatePostText checks that text is non-empty and fits in a post.
func ValidatePostText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errs.New(errs.ErrorTypeInvalid, 0, "post text is empty")
	}
	if n := uniseg.GraphemeClusterCount(text); n > MaxPostGraphemes {
		return errs.New(errs.ErrorTypeInvalid, 0, fmt.Sprintf("post text is %d graphemes, limit is %d", n, MaxPostGraphemes))
	}
	return nil
}
