package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("src-host", "", "")
	flags.Int("src-port", 993, "")
	flags.String("src-user", "", "")
	flags.String("src-pass", "", "")
	flags.String("dst-host", "", "")
	flags.String("dst-user", "", "")
	flags.String("dst-pass", "", "")
	flags.Int("concurrency", 1, "")
	flags.Bool("dry-run", false, "")
	flags.String("exclude-folders", "", "")
	flags.String("log-level", "info", "")
	flags.Int("retries", 3, "")
	return flags
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.Engine.MaxWorkers)
	assert.Equal(t, 3, cfg.Engine.RetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.Engine.RetryDelay())
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.PollInterval())
	assert.Equal(t, time.Second, cfg.Engine.PopWait())
	assert.Equal(t, 993, cfg.Source.Port)
	assert.True(t, cfg.Source.Secure)
}

func TestLoadFileThenFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
engine:
  retry_delay_ms: 500
source:
  host: imap.old.example
  username: alice
  password: secret
target:
  host: imap.new.example
  username: alice
  password: secret
  port: 1993
sync:
  concurrency: 4
  since_date: 01-Jan-2024
  exclude_folders: [Trash]
`), 0o600))

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--concurrency=8", "--exclude-folders= Drafts, ,Spam "}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateRun())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.RetryDelay())
	assert.Equal(t, 8, cfg.Sync.Concurrency)
	assert.Equal(t, []string{"Drafts", "Spam"}, cfg.Sync.ExcludeFolders)
	assert.Equal(t, "01-Jan-2024", cfg.Sync.SinceDate)

	src := cfg.SourceMailbox()
	assert.Equal(t, "imap.old.example:993", src.Addr())
	assert.Equal(t, 30*time.Second, src.DialTimeout)
	assert.Equal(t, "imap.new.example:1993", cfg.TargetMailbox().Addr())
}

func TestLoadInvalid(t *testing.T) {
	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--retries=0"}))
	_, err := Load("", flags)
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}

func TestValidateRun(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.ValidateRun())

	cfg.Source = Account{Host: "src", Username: "u", Password: "p", Port: 993}
	require.Error(t, cfg.ValidateRun(), "target is required for a live run")

	cfg.Sync.DryRun = true
	require.NoError(t, cfg.ValidateRun())
}
