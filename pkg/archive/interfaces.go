package archive

import (
	"context"
	"encoding/json"
	"time"

	"bskyarchive/pkg/bsky"
	"bskyarchive/pkg/paginate"
)

// Client defines the authenticated API operations an archive run needs
type Client interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
	GetProfile(ctx context.Context, actor string) (json.RawMessage, error)
	GetAuthorFeed(ctx context.Context, actor, cursor string, limit int) (paginate.Page[json.RawMessage], error)
	GetFollowers(ctx context.Context, actor, cursor string, limit int) (paginate.Page[json.RawMessage], error)
	GetFollows(ctx context.Context, actor, cursor string, limit int) (paginate.Page[json.RawMessage], error)
	GetActorLikes(ctx context.Context, actor, cursor string, limit int) (paginate.Page[json.RawMessage], error)
	ProbeLikes(ctx context.Context, actor string) bsky.Support
}

// Gate is the persisted download cooldown
type Gate interface {
	CanDownload() bool
	TimeRemaining() time.Duration
	MarkDownloadStarted() error
}
