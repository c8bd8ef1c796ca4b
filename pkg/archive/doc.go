// Package archive downloads a Bluesky profile to local JSON files.
//
// The Archiver sequences one run for a handle:
//
//	ResolvingIdentity -> FetchingProfileInfo -> DownloadingPosts ->
//	DownloadingFollowers -> DownloadingFollows -> DownloadingLikes ->
//	Compressing (optional) -> Done
//
// Only identity resolution is fatal. Every other resource is isolated: a
// failure is recorded in the Summary and the run moves on with whatever was
// fetched.
//
// Layout under the base directory:
//
//	<handle>/infos/manifest.json            resume state
//	<handle>/infos/profile.json             raw profile record
//	<handle>/articles/posts-0001.json       batched feed items
//	<handle>/interactions/likes-0001.json   batched likes
//	<handle>/interactions/followers.json    merged follower list
//	<handle>/interactions/following.json    merged follow list
//	<handle>/<handle>.zip                   compressed copy of the tree
//
// Resume:
//
// Cursors in the manifest only advance once every record before them is on
// disk. A batched kind checkpoints whenever its writer has nothing pending;
// a list kind checkpoints each time the list file is saved. Re-running a
// finished profile skips completed batched kinds and refreshes the lists.
package archive
