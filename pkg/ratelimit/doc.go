// Package ratelimit keeps the archiver from hammering the API.
//
// Gate is the coarse control: a cooldown between whole profile downloads,
// persisted to disk so it survives restarts. The interval for the next
// window is drawn once, when a download is marked started:
//
//	gate, err := ratelimit.NewGate(cfg.RateLimit.StateFile, 4*time.Minute, 6*time.Minute)
//	if !gate.CanDownload() && !force {
//	    return fmt.Errorf("wait %s", gate.TimeRemaining())
//	}
//	gate.MarkDownloadStarted()
//
// TokenBucket is the fine control: it paces individual XRPC requests inside
// a run using golang.org/x/time/rate.
package ratelimit
