package archive

import "bskyarchive/pkg/manifest"

// State is a step of an archive run
type State int

const (
	StateCheckingRateLimit State = iota
	StateResolvingIdentity
	StateFetchingProfileInfo
	StateDownloadingPosts
	StateDownloadingFollowers
	StateDownloadingFollows
	StateDownloadingLikes
	StateSavingManifest
	StateCompressing
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateCheckingRateLimit:    "CheckingRateLimit",
	StateResolvingIdentity:    "ResolvingIdentity",
	StateFetchingProfileInfo:  "FetchingProfileInfo",
	StateDownloadingPosts:     "DownloadingPosts",
	StateDownloadingFollowers: "DownloadingFollowers",
	StateDownloadingFollows:   "DownloadingFollows",
	StateDownloadingLikes:     "DownloadingLikes",
	StateSavingManifest:       "SavingManifest",
	StateCompressing:          "Compressing",
	StateDone:                 "Done",
	StateFailed:               "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// downloadState maps a resource kind to the state that downloads it.
func downloadState(k manifest.Kind) State {
	switch k {
	case manifest.Posts:
		return StateDownloadingPosts
	case manifest.Followers:
		return StateDownloadingFollowers
	case manifest.Follows:
		return StateDownloadingFollows
	default:
		return StateDownloadingLikes
	}
}
