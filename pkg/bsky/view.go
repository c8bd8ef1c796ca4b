package bsky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"bskyarchive/pkg/paginate"
)

// Thread depth defaults of getPostThread
const (
	DefaultThreadDepth        = 6
	DefaultThreadParentHeight = 80
)

// GetTimeline returns one page of the session account's home timeline
func (c *Client) GetTimeline(ctx context.Context, cursor string, limit int) (paginate.Page[json.RawMessage], error) {
	var resp feedResponse
	if err := c.query(ctx, NSIDGetTimeline, subjectParams("", "", cursor, limit), &resp); err != nil {
		return paginate.Page[json.RawMessage]{}, err
	}
	return paginate.Page[json.RawMessage]{Records: resp.Feed, Cursor: resp.Cursor}, nil
}

// GetPostThread returns the thread view around the post at uri. A depth
// and parentHeight of 0 return the post alone.
func (c *Client) GetPostThread(ctx context.Context, uri string, depth, parentHeight int) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("uri", uri)
	params.Set("depth", strconv.Itoa(max(depth, 0)))
	params.Set("parentHeight", strconv.Itoa(max(parentHeight, 0)))

	var resp threadResponse
	if err := c.query(ctx, NSIDGetPostThread, params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch thread %s: %w", uri, err)
	}
	return resp.Thread, nil
}

// GetFeedGenerator returns the generator view describing a custom feed
func (c *Client) GetFeedGenerator(ctx context.Context, feed string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("feed", feed)

	var resp feedGeneratorResponse
	if err := c.query(ctx, NSIDGetFeedGenerator, params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch feed generator %s: %w", feed, err)
	}
	if !resp.IsOnline {
		c.logger.WarnWithFields("feed generator is offline", map[string]interface{}{
			"feed": feed,
		})
	}
	return resp.View, nil
}

// GetFeed returns one page of a custom feed
func (c *Client) GetFeed(ctx context.Context, feed, cursor string, limit int) (paginate.Page[json.RawMessage], error) {
	var resp feedResponse
	if err := c.query(ctx, NSIDGetFeed, subjectParams("feed", feed, cursor, limit), &resp); err != nil {
		return paginate.Page[json.RawMessage]{}, err
	}
	return paginate.Page[json.RawMessage]{Records: resp.Feed, Cursor: resp.Cursor}, nil
}

// GetList returns one page of the members of a list together with the
// list view itself.
func (c *Client) GetList(ctx context.Context, list, cursor string, limit int) (paginate.Page[json.RawMessage], json.RawMessage, error) {
	var resp listResponse
	if err := c.query(ctx, NSIDGetList, subjectParams("list", list, cursor, limit), &resp); err != nil {
		return paginate.Page[json.RawMessage]{}, nil, err
	}
	return paginate.Page[json.RawMessage]{Records: resp.Items, Cursor: resp.Cursor}, resp.List, nil
}

// GetLists returns one page of the lists created by actor
func (c *Client) GetLists(ctx context.Context, actor, cursor string, limit int) (paginate.Page[json.RawMessage], error) {
	var resp listsResponse
	if err := c.query(ctx, NSIDGetLists, pageParams(actor, cursor, limit), &resp); err != nil {
		return paginate.Page[json.RawMessage]{}, err
	}
	return paginate.Page[json.RawMessage]{Records: resp.Lists, Cursor: resp.Cursor}, nil
}
