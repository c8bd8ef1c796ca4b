package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"bskyarchive/pkg/batch"
	"bskyarchive/pkg/bsky"
	"bskyarchive/pkg/config"
	"bskyarchive/pkg/kvstore"
	"bskyarchive/pkg/logger"
	"bskyarchive/pkg/manifest"
	"bskyarchive/pkg/paginate"

	"github.com/google/uuid"
)

var (
	// ErrIdentity is returned when the handle cannot be resolved to a DID.
	ErrIdentity = errors.New("failed to resolve identity")
	// ErrRateLimited is returned when the download cooldown is active.
	ErrRateLimited = errors.New("download cooldown active")
	// ErrAccountChanged is returned when the handle resolves to another DID
	// than the one its archive was made for.
	ErrAccountChanged = errors.New("handle belongs to a different account")
)

// Options tunes an Archiver
type Options struct {
	PageLimit int
	BatchSize int
	MinDelay  time.Duration
	MaxDelay  time.Duration
	// Sleep waits between pages. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnState is called on every state transition.
	OnState func(handle string, s State)
	Now     func() time.Time
}

// OptionsFromConfig builds Options from application settings
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PageLimit: cfg.Bluesky.PageLimit,
		BatchSize: cfg.Output.BatchSize,
		MinDelay:  cfg.Pagination.MinDelay,
		MaxDelay:  cfg.Pagination.MaxDelay,
	}
}

// RunOptions controls a single run
type RunOptions struct {
	// Force skips the download cooldown without recording the run in it.
	Force bool
	// Compress zips the profile tree once the downloads finish.
	Compress bool
	// Reset discards the manifest and every archived file first.
	Reset bool
}

// Archiver downloads profiles into a manifest store
type Archiver struct {
	client Client
	gate   Gate
	store  *manifest.Store
	kv     *kvstore.Store
	opts   Options
	logger logger.Logger
	// save persists a manifest; tests replace it to inject write failures.
	save func(handle string, m *manifest.Manifest) error
}

// New creates an Archiver. client must already be authenticated.
func New(client Client, gate Gate, store *manifest.Store, opts Options, log logger.Logger) *Archiver {
	if opts.PageLimit <= 0 {
		opts.PageLimit = bsky.MaxPageLimit
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = opts.PageLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Archiver{
		client: client,
		gate:   gate,
		store:  store,
		kv:     store.KV(),
		opts:   opts,
		logger: log,
		save:   store.Save,
	}
}

func (a *Archiver) setState(handle string, s State, log logger.Logger) {
	log.DebugWithFields("archive state changed", map[string]interface{}{
		"state": s.String(),
	})
	if a.opts.OnState != nil {
		a.opts.OnState(handle, s)
	}
}

// Run archives handle. A fatal error (cooldown, identity, account change,
// reset, manifest write) aborts the run; per-resource failures are reported in the Summary.
// On cancellation the partial Summary is returned with the context error.
func (a *Archiver) Run(ctx context.Context, handle string, ro RunOptions) (*Summary, error) {
	runID := uuid.NewString()
	log := a.logger.WithFields(map[string]interface{}{
		"run_id": runID,
		"handle": handle,
	})
	summary := &Summary{RunID: runID, Handle: handle, StartedAt: a.opts.Now(), Forced: ro.Force}

	a.setState(handle, StateCheckingRateLimit, log)
	if ro.Force {
		// A forced run neither consults nor advances the cooldown.
		log.Warn("download cooldown bypassed")
	} else {
		if !a.gate.CanDownload() {
			remaining := a.gate.TimeRemaining()
			logger.LogRateLimit(log, handle, remaining)
			a.setState(handle, StateFailed, log)
			return nil, fmt.Errorf("%w: next download allowed in %s", ErrRateLimited, remaining.Round(time.Second))
		}
		if err := a.gate.MarkDownloadStarted(); err != nil {
			a.setState(handle, StateFailed, log)
			return nil, fmt.Errorf("failed to record download start: %w", err)
		}
	}

	if ro.Reset {
		if err := a.store.Reset(handle); err != nil {
			a.setState(handle, StateFailed, log)
			return nil, fmt.Errorf("failed to reset %s: %w", handle, err)
		}
		log.Info("archive reset")
	}

	a.setState(handle, StateResolvingIdentity, log)
	did, err := a.client.ResolveHandle(ctx, handle)
	if err != nil {
		log.WithError(err).Error("identity resolution failed")
		a.setState(handle, StateFailed, log)
		return nil, fmt.Errorf("%w %s: %w", ErrIdentity, handle, err)
	}
	summary.DID = did
	log = log.WithField("did", did)

	m := a.store.Load(handle)
	if m.DID != "" && m.DID != did {
		log.ErrorWithFields("handle now resolves to a different account", map[string]interface{}{
			"previous_did": m.DID,
		})
		a.setState(handle, StateFailed, log)
		return nil, fmt.Errorf("%w: %s was archived as %s, now %s; rerun with --reset", ErrAccountChanged, handle, m.DID, did)
	}
	m.Handle = handle
	m.DID = did

	log.InfoWithFields("starting archive", map[string]interface{}{
		"action": "download_start",
		"forced": ro.Force,
	})

	a.setState(handle, StateFetchingProfileInfo, log)
	if err := a.saveProfile(ctx, handle, did); err != nil {
		summary.ProfileErr = err
		log.WithError(err).Warn("failed to save profile info")
	}

	for _, kind := range manifest.Kinds {
		if ctx.Err() != nil {
			break
		}
		a.setState(handle, downloadState(kind), log)
		result := a.archiveKind(ctx, handle, did, m, kind, log.WithField("kind", string(kind)))
		summary.Kinds = append(summary.Kinds, result)
	}

	a.setState(handle, StateSavingManifest, log)
	m.RecordDownload(a.opts.Now())
	if err := a.save(handle, m); err != nil {
		a.setState(handle, StateFailed, log)
		return summary, fmt.Errorf("failed to save manifest: %w", err)
	}

	if err := ctx.Err(); err != nil {
		log.Warn("archive interrupted")
		summary.FinishedAt = a.opts.Now()
		return summary, err
	}

	if ro.Compress {
		a.setState(handle, StateCompressing, log)
		summary.ZipPath, summary.ZipErr = a.compress(handle)
		if summary.ZipErr != nil {
			log.WithError(summary.ZipErr).Warn("compression failed")
		}
	}

	summary.FinishedAt = a.opts.Now()
	a.setState(handle, StateDone, log)
	log.InfoWithFields("archive finished", map[string]interface{}{
		"action":   "download_complete",
		"duration": summary.Duration(),
		"degraded": summary.Failed(),
	})
	return summary, nil
}

func (a *Archiver) saveProfile(ctx context.Context, handle, did string) error {
	profile, err := a.client.GetProfile(ctx, did)
	if err != nil {
		return err
	}
	return a.kv.Save(manifest.ProfileKey(handle), profile)
}

func (a *Archiver) compress(handle string) (string, error) {
	dir, err := a.kv.Path(handle)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, handle+".zip")
	if _, err := Compress(dir, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (a *Archiver) archiveKind(ctx context.Context, handle, did string, m *manifest.Manifest, kind manifest.Kind, log logger.Logger) KindResult {
	var fetch paginate.FetchFunc[json.RawMessage]
	switch kind {
	case manifest.Posts:
		fetch = bind(did, a.client.GetAuthorFeed)
	case manifest.Followers:
		fetch = bind(did, a.client.GetFollowers)
	case manifest.Follows:
		fetch = bind(did, a.client.GetFollows)
	case manifest.Likes:
		if support := a.client.ProbeLikes(ctx, did); support == bsky.SupportUnsupported {
			log.Info("likes are not available for this account")
			return KindResult{Kind: kind, Status: StatusUnsupported, Total: m.Count(kind)}
		}
		fetch = bind(did, a.client.GetActorLikes)
	}

	var result KindResult
	switch kind {
	case manifest.Followers, manifest.Follows:
		result = a.archiveList(ctx, handle, m, kind, fetch, log)
	default:
		result = a.archiveBatched(ctx, handle, m, kind, fetch, log)
	}

	fields := map[string]interface{}{
		"status":  string(result.Status),
		"records": result.Records,
		"total":   result.Total,
		"files":   len(result.Files),
	}
	if result.Err != nil {
		log.WithError(result.Err).WarnWithFields("resource download incomplete", fields)
	} else {
		log.InfoWithFields("resource downloaded", fields)
	}
	return result
}

// archiveBatched streams kind into numbered batch files.
func (a *Archiver) archiveBatched(ctx context.Context, handle string, m *manifest.Manifest, kind manifest.Kind, fetch paginate.FetchFunc[json.RawMessage], log logger.Logger) KindResult {
	result := KindResult{Kind: kind, Total: m.Count(kind)}
	if m.IsCompleted(kind) {
		result.Status = StatusSkipped
		return result
	}

	w, err := batch.NewWriter[json.RawMessage](a.kv, manifest.BatchDir(handle, kind), string(kind), a.opts.BatchSize)
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	// The manifest is saved after every page. Its resume point always
	// names the first record not yet in a batch file.
	base := m.Count(kind)
	track := newResumeTracker(m.Cursor(kind), m.Skip(kind))
	drop := m.Skip(kind)
	fetched, flushed := 0, 0

	persist := func() error {
		cursor, skip := track.point()
		m.SetResume(kind, cursor, skip)
		m.SetCount(kind, base+flushed)
		return a.save(handle, m)
	}

	_, walkErr := paginate.Walk(ctx, fetch, a.pageOptions(m.Cursor(kind), log), func(p paginate.Page[json.RawMessage]) error {
		records := p.Records
		track.page(len(records), p.Cursor)
		if drop > 0 {
			n := min(drop, len(records))
			records = records[n:]
			track.advance(n)
			drop = 0
		}

		written, err := w.Append(records...)
		track.advance(len(written) * a.opts.BatchSize)
		flushed += len(written) * a.opts.BatchSize
		fetched += len(records)
		if err != nil {
			return err
		}
		return persist()
	})

	pending := w.Pending()
	key, flushErr := w.Flush()
	if key != "" {
		track.advance(pending)
		flushed += pending
	}

	var saveErr error
	if flushErr == nil && track.allDurable() && (walkErr == nil || track.ended()) {
		m.SetResume(kind, "", 0)
		m.SetCount(kind, base+flushed)
		m.MarkCompleted(kind, true)
		saveErr = a.save(handle, m)
	} else {
		m.MarkCompleted(kind, false)
		saveErr = persist()
	}

	result.Records = fetched
	result.Total = m.Count(kind)
	result.Files = w.Files()
	result.Err = errors.Join(walkErr, flushErr, saveErr)
	if result.Err != nil {
		result.Status = failureStatus(fetched)
	} else {
		result.Status = StatusCompleted
	}
	return result
}

// archiveList merges kind into a single de-duplicated list file.
func (a *Archiver) archiveList(ctx context.Context, handle string, m *manifest.Manifest, kind manifest.Kind, fetch paginate.FetchFunc[json.RawMessage], log logger.Logger) KindResult {
	result := KindResult{Kind: kind, Total: m.Count(kind)}

	list := batch.NewListFile(a.kv, manifest.ListKey(handle, kind), batch.JSONField("did"), log)
	if err := list.Load(); err != nil {
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	start := m.Cursor(kind)
	if m.IsCompleted(kind) {
		start = ""
		log.Debug("refreshing completed list from the head")
	}

	fetched, unsaved, added := 0, 0, 0
	next, seen := start, false
	walk, walkErr := paginate.Walk(ctx, fetch, a.pageOptions(start, log), func(p paginate.Page[json.RawMessage]) error {
		added += list.Merge(p.Records...)
		fetched += len(p.Records)
		unsaved += len(p.Records)
		next, seen = p.Cursor, true
		if unsaved < a.opts.BatchSize {
			return nil
		}
		if err := list.Save(); err != nil {
			return err
		}
		unsaved = 0
		m.SetCount(kind, list.Len())
		m.SetResume(kind, p.Cursor, 0)
		return a.save(handle, m)
	})

	saveErr := list.Save()
	if saveErr == nil {
		m.SetCount(kind, list.Len())
		if (walkErr == nil && walk.Exhausted) || (seen && next == "") {
			m.SetResume(kind, "", 0)
			m.MarkCompleted(kind, true)
		} else {
			m.SetResume(kind, next, 0)
			m.MarkCompleted(kind, false)
		}
	}

	log.DebugWithFields("list merged", map[string]interface{}{
		"added": added,
		"size":  list.Len(),
	})

	result.Records = fetched
	result.Total = m.Count(kind)
	result.Files = []string{list.Key()}
	result.Err = errors.Join(walkErr, saveErr, a.save(handle, m))
	if result.Err != nil {
		result.Status = failureStatus(fetched)
	} else {
		result.Status = StatusCompleted
	}
	return result
}

func (a *Archiver) pageOptions(start string, log logger.Logger) paginate.Options {
	return paginate.Options{
		StartCursor: start,
		Limit:       a.opts.PageLimit,
		MinDelay:    a.opts.MinDelay,
		MaxDelay:    a.opts.MaxDelay,
		Sleep:       a.opts.Sleep,
		Logger:      log,
	}
}

// bind fixes the actor of a paginated client call.
func bind(actor string, call func(ctx context.Context, actor, cursor string, limit int) (paginate.Page[json.RawMessage], error)) paginate.FetchFunc[json.RawMessage] {
	return func(ctx context.Context, cursor string, limit int) (paginate.Page[json.RawMessage], error) {
		return call(ctx, actor, cursor, limit)
	}
}
