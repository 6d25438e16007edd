package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	orig := os.Args
	os.Args = append([]string{"inspectra"}, args...)
	t.Cleanup(func() { os.Args = orig })
}

func TestLoadDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	require.Equal(t, 3*time.Second, cfg.LockPollInterval)
	require.Equal(t, 6*time.Second, cfg.LockGraceWindow)
	require.Equal(t, 5*time.Minute, cfg.IdleThreshold)
	require.Equal(t, 700*time.Millisecond, cfg.SaveDebounce)
	require.Equal(t, 6, cfg.UploadConcurrency)
	require.Equal(t, 1600, cfg.MaxImageEdge)
	require.Equal(t, 80, cfg.JPEGQuality)
	require.Equal(t, "inspection-photos", cfg.S3Bucket)
}

func TestLoadConfig_FlagsOverrideDefaults(t *testing.T) {
	withArgs(t, "-r", "postgres://u:p@db:5432/qa", "-d", "/var/lib/inspectra", "-b", "qa-photos")

	cfg := LoadConfig()
	require.Equal(t, "postgres://u:p@db:5432/qa", cfg.RemoteDSN)
	require.Equal(t, "/var/lib/inspectra", cfg.DataDir)
	require.Equal(t, "qa-photos", cfg.S3Bucket)

	// untouched values keep their defaults
	require.Equal(t, 3*time.Second, cfg.LockPollInterval)
}

func TestLoadConfig_JsonOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"remote_dsn": "postgres://json",
		"lock_poll_interval": "2s",
		"lock_grace_window": "8s",
		"idle_threshold": "10m",
		"save_debounce": "500ms",
		"upload_concurrency": 4,
		"s3_bucket": "json-bucket"
	}`), 0o600))

	withArgs(t, "-c", path)

	cfg := LoadConfig()
	require.Equal(t, "postgres://json", cfg.RemoteDSN)
	require.Equal(t, 2*time.Second, cfg.LockPollInterval)
	require.Equal(t, 8*time.Second, cfg.LockGraceWindow)
	require.Equal(t, 10*time.Minute, cfg.IdleThreshold)
	require.Equal(t, 500*time.Millisecond, cfg.SaveDebounce)
	require.Equal(t, 4, cfg.UploadConcurrency)
	require.Equal(t, "json-bucket", cfg.S3Bucket)
}

func TestLoadConfig_FlagsBeatJson(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"s3_bucket": "json-bucket"}`), 0o600))

	withArgs(t, "-c", path, "-b", "flag-bucket")

	cfg := LoadConfig()
	require.Equal(t, "flag-bucket", cfg.S3Bucket)
}

func TestLoadConfig_PartialJsonKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"s3_region": "eu-west-1"}`), 0o600))

	withArgs(t, "-c", path)

	cfg := LoadConfig()
	require.Equal(t, "eu-west-1", cfg.S3Region)
	require.Equal(t, 5*time.Minute, cfg.IdleThreshold)
	require.Equal(t, 6, cfg.UploadConcurrency)
}
