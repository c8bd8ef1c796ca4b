package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bskyarchive/pkg/config"
)

func TestExampleConfigIsValid(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	for _, key := range []string{"BSKY_DOM", "BSKY_ID", "BSKY_PASSWD", "BSKY_TOKENS_PATH", "BSKYARCHIVE_OUTPUT_DIR", "BSKYARCHIVE_EXPORT_DIR", "BSKYARCHIVE_PAGE_LIMIT", "BSKYARCHIVE_LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	path := filepath.Join(home, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(exampleConfig), 0600))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	defaults := config.DefaultConfig()
	assert.Equal(t, "https://bsky.social", cfg.Bluesky.Service)
	assert.Equal(t, 4*time.Minute, cfg.RateLimit.MinInterval)
	assert.Equal(t, 6*time.Minute, cfg.RateLimit.MaxInterval)
	assert.Equal(t, defaults.RateLimit.StateFile, cfg.RateLimit.StateFile)
	assert.Equal(t, defaults.Sessions.TokensPath, cfg.Sessions.TokensPath)
	assert.Equal(t, 100, cfg.Output.BatchSize)
	assert.Equal(t, "downloads", cfg.Export.Directory)
	assert.Equal(t, 5, cfg.Export.MaxDepth)
}

func TestNormalizeHandle(t *testing.T) {
	assert.Equal(t, "alice.bsky.social", normalizeHandle(" @Alice.bsky.social "))
	assert.Equal(t, "bob.test", normalizeHandle("bob.test"))
	assert.Equal(t, "", normalizeHandle("@"))
}

func TestVersionInfo(t *testing.T) {
	info := versionInfo()
	assert.Contains(t, info, "bskyarchive "+version)
	assert.Contains(t, info, "Go Version: ")
}
