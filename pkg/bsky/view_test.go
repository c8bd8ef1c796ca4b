package bsky

import (
	"context"
	"net/http"
	"testing"

	"bskyarchive/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewEndpoints(t *testing.T) {
	const postURI = "at://did:plc:alice/app.bsky.feed.post/3k"
	const feedURI = "at://did:plc:alice/app.bsky.feed.generator/cats"
	const listURI = "at://did:plc:alice/app.bsky.graph.list/friends"

	srv := newTestServer(t, map[string]http.HandlerFunc{
		NSIDGetTimeline: func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Empty(t, q.Get("actor"))
			assert.Equal(t, "t1", q.Get("cursor"))
			assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"cursor": "t2",
				"feed":   []map[string]string{{"post": "a"}},
			})
		},
		NSIDGetPostThread: func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, postURI, q.Get("uri"))
			assert.Equal(t, "10", q.Get("depth"))
			assert.Equal(t, "0", q.Get("parentHeight"))
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"thread": map[string]string{"$type": "app.bsky.feed.defs#threadViewPost"},
			})
		},
		NSIDGetFeedGenerator: func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, feedURI, r.URL.Query().Get("feed"))
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"view":     map[string]string{"displayName": "Cats"},
				"isOnline": false,
				"isValid":  true,
			})
		},
		NSIDGetFeed: func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, feedURI, r.URL.Query().Get("feed"))
			assert.Equal(t, "25", r.URL.Query().Get("limit"))
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"feed": []map[string]string{{"post": "cat"}, {"post": "kitten"}},
			})
		},
		NSIDGetList: func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, listURI, r.URL.Query().Get("list"))
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"cursor": "l2",
				"list":   map[string]string{"name": "Friends"},
				"items":  []map[string]interface{}{{"subject": map[string]string{"did": "did:plc:bob"}}},
			})
		},
		NSIDGetLists: func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "did:plc:alice", r.URL.Query().Get("actor"))
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"lists": []map[string]string{{"uri": listURI}},
			})
		},
	})

	log := logger.NewTestLogger()
	client := newTestClient(srv, log)
	client.SetSession(testSession(srv.URL))
	ctx := context.Background()

	timeline, err := client.GetTimeline(ctx, "t1", 50)
	require.NoError(t, err)
	assert.Equal(t, "t2", timeline.Cursor)
	assert.Len(t, timeline.Records, 1)

	thread, err := client.GetPostThread(ctx, postURI, 10, -3)
	require.NoError(t, err)
	assert.JSONEq(t, `{"$type":"app.bsky.feed.defs#threadViewPost"}`, string(thread))

	gen, err := client.GetFeedGenerator(ctx, feedURI)
	require.NoError(t, err)
	assert.JSONEq(t, `{"displayName":"Cats"}`, string(gen))
	assert.True(t, log.HasMessage("WARN", "feed generator is offline"))

	feed, err := client.GetFeed(ctx, feedURI, "", 25)
	require.NoError(t, err)
	assert.Len(t, feed.Records, 2)
	assert.Empty(t, feed.Cursor)

	members, info, err := client.GetList(ctx, listURI, "", 100)
	require.NoError(t, err)
	assert.Equal(t, "l2", members.Cursor)
	assert.Len(t, members.Records, 1)
	assert.JSONEq(t, `{"name":"Friends"}`, string(info))

	lists, err := client.GetLists(ctx, "did:plc:alice", "", 100)
	require.NoError(t, err)
	assert.Len(t, lists.Records, 1)
}

func TestPostThreadNotFound(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		NSIDGetPostThread: func(w http.ResponseWriter, r *http.Request) {
			xrpcFail(w, http.StatusBadRequest, "NotFound", "Post not found")
		},
	})
	client := newTestClient(srv, nil)

	_, err := client.GetPostThread(context.Background(), "at://did:plc:alice/app.bsky.feed.post/gone", 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Post not found")
}
