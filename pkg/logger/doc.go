// Package logger provides the structured logging interface used across the archiver.
//
// It wraps zerolog behind a small Logger interface so components can receive a
// logger by injection and tests can swap in NewNopLogger or NewTestLogger.
//
// Basic Usage:
//
//	log, err := logger.New(&config.LoggingConfig{Level: "debug"})
//	if err != nil {
//	    return err
//	}
//	log.WithField("handle", "alice.bsky.social").Info("archive started")
//	log.InfoWithFields("page fetched", map[string]interface{}{
//	    "kind":    "posts",
//	    "records": 100,
//	})
//
// Console output is written to stderr and is colored only when stderr is a
// terminal. Setting File additionally appends JSON lines to that file.
package logger
