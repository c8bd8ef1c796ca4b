// Package view downloads single Bluesky entities for inspection: a profile,
// a feed, a post or thread, a list. Unlike an archive run nothing is
// resumed; each call walks at most a fixed number of items and returns
// them as one Entity.
package view

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bskyarchive/pkg/bsky"
	"bskyarchive/pkg/logger"
	"bskyarchive/pkg/paginate"
)

// Kind names the entity an Entity holds
type Kind string

const (
	KindProfile    Kind = "profile"
	KindAuthorFeed Kind = "author_feed"
	KindTimeline   Kind = "timeline"
	KindPost       Kind = "post"
	KindThread     Kind = "thread"
	KindList       Kind = "user_list"
	KindCustomFeed Kind = "custom_feed"
	KindActorLists Kind = "user_lists"
)

// Client defines the read-only API operations a Fetcher needs
type Client interface {
	GetProfile(ctx context.Context, actor string) (json.RawMessage, error)
	GetAuthorFeed(ctx context.Context, actor, cursor string, limit int) (paginate.Page[json.RawMessage], error)
	GetTimeline(ctx context.Context, cursor string, limit int) (paginate.Page[json.RawMessage], error)
	GetPostThread(ctx context.Context, uri string, depth, parentHeight int) (json.RawMessage, error)
	GetFeedGenerator(ctx context.Context, feed string) (json.RawMessage, error)
	GetFeed(ctx context.Context, feed, cursor string, limit int) (paginate.Page[json.RawMessage], error)
	GetList(ctx context.Context, list, cursor string, limit int) (paginate.Page[json.RawMessage], json.RawMessage, error)
	GetLists(ctx context.Context, actor, cursor string, limit int) (paginate.Page[json.RawMessage], error)
}

// Entity is one downloaded entity in the shape written to disk
type Entity struct {
	Type    Kind   `json:"type"`
	Subject string `json:"subject"`
	Filter  string `json:"filter,omitempty"`
	// Depth and ParentHeight are set for threads only.
	Depth        *int            `json:"depth,omitempty"`
	ParentHeight *int            `json:"parent_height,omitempty"`
	Info         json.RawMessage `json:"info,omitempty"`
	Total        int             `json:"total"`
	Data         json.RawMessage `json:"data"`
	DownloadedAt time.Time       `json:"downloaded_at"`
}

// Options controls a Fetcher
type Options struct {
	// PageLimit is the number of records asked for per request.
	PageLimit int
	// MaxItems caps paginated entities; 0 walks the whole collection.
	MaxItems int
	// FeedFilter is recorded on author feeds. The client applies it.
	FeedFilter string
	MinDelay   time.Duration
	MaxDelay   time.Duration
	Sleep      func(ctx context.Context, d time.Duration) error
	Now        func() time.Time
}

// Fetcher downloads entities through a Client
type Fetcher struct {
	client Client
	opts   Options
	logger logger.Logger
}

// errLimitReached ends a walk once MaxItems records were collected.
var errLimitReached = errors.New("item limit reached")

// New creates a Fetcher
func New(client Client, opts Options, log logger.Logger) *Fetcher {
	if opts.PageLimit <= 0 || opts.PageLimit > bsky.MaxPageLimit {
		opts.PageLimit = bsky.MaxPageLimit
	}
	if opts.MaxItems < 0 {
		opts.MaxItems = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Fetcher{client: client, opts: opts, logger: log}
}

// Profile downloads the profile view of actor
func (f *Fetcher) Profile(ctx context.Context, actor string) (*Entity, error) {
	raw, err := f.client.GetProfile(ctx, actor)
	if err != nil {
		return nil, err
	}
	return f.entity(KindProfile, actor, raw, 1), nil
}

// AuthorFeed downloads the posts of actor
func (f *Fetcher) AuthorFeed(ctx context.Context, actor string) (*Entity, error) {
	e, err := f.collect(ctx, KindAuthorFeed, actor, func(ctx context.Context, cursor string, limit int) (paginate.Page[json.RawMessage], error) {
		return f.client.GetAuthorFeed(ctx, actor, cursor, limit)
	})
	if e != nil {
		e.Filter = f.opts.FeedFilter
	}
	return e, err
}

// Timeline downloads the home timeline of the session account, recorded
// under account.
func (f *Fetcher) Timeline(ctx context.Context, account string) (*Entity, error) {
	return f.collect(ctx, KindTimeline, account, f.client.GetTimeline)
}

// Post downloads the post at uri without its replies or parents
func (f *Fetcher) Post(ctx context.Context, uri string) (*Entity, error) {
	raw, err := f.client.GetPostThread(ctx, uri, 0, 0)
	if err != nil {
		return nil, err
	}
	return f.entity(KindPost, uri, raw, 1), nil
}

// Thread downloads the thread around the post at uri
func (f *Fetcher) Thread(ctx context.Context, uri string, depth, parentHeight int) (*Entity, error) {
	depth, parentHeight = max(depth, 0), max(parentHeight, 0)
	raw, err := f.client.GetPostThread(ctx, uri, depth, parentHeight)
	if err != nil {
		return nil, err
	}
	e := f.entity(KindThread, uri, raw, 1)
	e.Depth, e.ParentHeight = &depth, &parentHeight
	return e, nil
}

// List downloads the members of the list at uri. The list view itself is
// kept in Info.
func (f *Fetcher) List(ctx context.Context, uri string) (*Entity, error) {
	var info json.RawMessage
	e, err := f.collect(ctx, KindList, uri, func(ctx context.Context, cursor string, limit int) (paginate.Page[json.RawMessage], error) {
		page, list, err := f.client.GetList(ctx, uri, cursor, limit)
		if err == nil && info == nil {
			info = list
		}
		return page, err
	})
	if e != nil {
		e.Info = info
	}
	return e, err
}

// CustomFeed downloads the posts of the feed generator at uri, with the
// generator view in Info.
func (f *Fetcher) CustomFeed(ctx context.Context, uri string) (*Entity, error) {
	info, err := f.client.GetFeedGenerator(ctx, uri)
	if err != nil {
		return nil, err
	}
	e, err := f.collect(ctx, KindCustomFeed, uri, func(ctx context.Context, cursor string, limit int) (paginate.Page[json.RawMessage], error) {
		return f.client.GetFeed(ctx, uri, cursor, limit)
	})
	if e != nil {
		e.Info = info
	}
	return e, err
}

// ActorLists downloads the lists created by actor
func (f *Fetcher) ActorLists(ctx context.Context, actor string) (*Entity, error) {
	return f.collect(ctx, KindActorLists, actor, func(ctx context.Context, cursor string, limit int) (paginate.Page[json.RawMessage], error) {
		return f.client.GetLists(ctx, actor, cursor, limit)
	})
}

// collect walks fetch up to MaxItems records. On a fetch error the records
// gathered so far are returned together with the error.
func (f *Fetcher) collect(ctx context.Context, kind Kind, subject string, fetch paginate.FetchFunc[json.RawMessage]) (*Entity, error) {
	records := make([]json.RawMessage, 0)
	limit := f.opts.MaxItems

	capped := func(ctx context.Context, cursor string, n int) (paginate.Page[json.RawMessage], error) {
		if limit > 0 {
			n = min(n, limit-len(records))
		}
		return fetch(ctx, cursor, n)
	}

	opts := paginate.Options{
		Limit:    f.opts.PageLimit,
		MinDelay: f.opts.MinDelay,
		MaxDelay: f.opts.MaxDelay,
		Sleep:    f.opts.Sleep,
		Logger:   f.logger,
	}
	_, err := paginate.Walk(ctx, capped, opts, func(p paginate.Page[json.RawMessage]) error {
		if limit > 0 && len(records)+len(p.Records) > limit {
			p.Records = p.Records[:limit-len(records)]
		}
		records = append(records, p.Records...)
		f.logger.DebugWithFields("entity page collected", map[string]interface{}{
			"type":  string(kind),
			"total": len(records),
		})
		if limit > 0 && len(records) >= limit {
			return errLimitReached
		}
		return nil
	})
	if errors.Is(err, errLimitReached) {
		err = nil
	}

	data, merr := json.Marshal(records)
	if merr != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", kind, merr)
	}
	e := f.entity(kind, subject, data, len(records))
	if err != nil {
		f.logger.WarnWithFields("entity download incomplete", map[string]interface{}{
			"type":    string(kind),
			"subject": subject,
			"total":   len(records),
			"error":   err.Error(),
		})
		return e, fmt.Errorf("failed to download %s %s: %w", kind, subject, err)
	}

	f.logger.InfoWithFields("entity downloaded", map[string]interface{}{
		"type":    string(kind),
		"subject": subject,
		"total":   len(records),
	})
	return e, nil
}

func (f *Fetcher) entity(kind Kind, subject string, data json.RawMessage, total int) *Entity {
	return &Entity{
		Type:         kind,
		Subject:      subject,
		Total:        total,
		Data:         data,
		DownloadedAt: f.opts.Now(),
	}
}
