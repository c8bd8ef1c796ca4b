package bsky

import (
	"net/url"
	"strconv"
	"strings"
)

// DefaultService is the entryway used when no PDS is configured
const DefaultService = "https://bsky.social"

// XRPC methods used by the client
const (
	NSIDCreateSession  = "com.atproto.server.createSession"
	NSIDRefreshSession = "com.atproto.server.refreshSession"
	NSIDGetSession     = "com.atproto.server.getSession"
	NSIDDeleteSession  = "com.atproto.server.deleteSession"
	NSIDResolveHandle  = "com.atproto.identity.resolveHandle"
	NSIDCreateRecord   = "com.atproto.repo.createRecord"
	NSIDGetProfile     = "app.bsky.actor.getProfile"
	NSIDGetAuthorFeed  = "app.bsky.feed.getAuthorFeed"
	NSIDGetActorLikes  = "app.bsky.feed.getActorLikes"
	NSIDGetFollowers   = "app.bsky.graph.getFollowers"
	NSIDGetFollows     = "app.bsky.graph.getFollows"

	NSIDGetTimeline      = "app.bsky.feed.getTimeline"
	NSIDGetPostThread    = "app.bsky.feed.getPostThread"
	NSIDGetFeed          = "app.bsky.feed.getFeed"
	NSIDGetFeedGenerator = "app.bsky.feed.getFeedGenerator"
	NSIDGetList          = "app.bsky.graph.getList"
	NSIDGetLists         = "app.bsky.graph.getLists"
)

// CollectionPost is the record collection of feed posts
const CollectionPost = "app.bsky.feed.post"

// Author feed filters accepted by getAuthorFeed
const (
	FilterPostsWithReplies  = "posts_with_replies"
	FilterPostsNoReplies    = "posts_no_replies"
	FilterPostsWithMedia    = "posts_with_media"
	FilterPostsAuthorThread = "posts_and_author_threads"
)

// MaxPageLimit is the largest page size the list endpoints accept
const MaxPageLimit = 100

// xrpcURL builds <base>/xrpc/<nsid>?<params>.
func xrpcURL(base, nsid string, params url.Values) string {
	u := strings.TrimRight(base, "/") + "/xrpc/" + nsid
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// pageParams returns the common actor/cursor/limit query.
func pageParams(actor, cursor string, limit int) url.Values {
	return subjectParams("actor", actor, cursor, limit)
}

// subjectParams returns a cursor/limit query for the collection named by
// key=value. An empty key adds no subject.
func subjectParams(key, value, cursor string, limit int) url.Values {
	params := url.Values{}
	if key != "" {
		params.Set(key, value)
	}
	if limit > 0 {
		if limit > MaxPageLimit {
			limit = MaxPageLimit
		}
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	return params
}
