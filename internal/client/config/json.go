package config

import (
	"encoding/json"
	"os"
	"time"

	"inspectra/internal/flagx"
	"inspectra/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "3s"
// or as integer nanoseconds. After parsing, values are copied into the
// runtime Config.
type JsonConfig struct {
	RemoteDSN   string         `json:"remote_dsn"`
	TokenSecret string         `json:"token_secret"`
	TokenTTL    timex.Duration `json:"token_ttl"`

	S3BaseEndpoint string `json:"s3_base_endpoint"`
	S3Region       string `json:"s3_region"`
	S3Bucket       string `json:"s3_bucket"`
	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`

	DataDir string `json:"data_dir"`

	LockPollInterval  timex.Duration `json:"lock_poll_interval"`
	LockGraceWindow   timex.Duration `json:"lock_grace_window"`
	IdleThreshold     timex.Duration `json:"idle_threshold"`
	SaveDebounce      timex.Duration `json:"save_debounce"`
	UploadConcurrency int            `json:"upload_concurrency"`
	MaxImageEdge      int            `json:"max_image_edge"`
	JPEGQuality       int            `json:"jpeg_quality"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// the -c/-config flag. Zero values in the file leave the corresponding
// Config fields untouched. Intended usage is: defaults -> parseJson ->
// parseFlags, where later stages override earlier ones. Panics on read or
// unmarshal errors (caller should recover if desired).
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	applyString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	applyDuration := func(dst *time.Duration, v timex.Duration) {
		if v.Duration != 0 {
			*dst = v.Duration
		}
	}
	applyInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}

	applyString(&cfg.RemoteDSN, jc.RemoteDSN)
	applyString(&cfg.TokenSecret, jc.TokenSecret)
	applyDuration(&cfg.TokenTTL, jc.TokenTTL)

	applyString(&cfg.S3BaseEndpoint, jc.S3BaseEndpoint)
	applyString(&cfg.S3Region, jc.S3Region)
	applyString(&cfg.S3Bucket, jc.S3Bucket)
	applyString(&cfg.S3AccessKey, jc.S3AccessKey)
	applyString(&cfg.S3SecretKey, jc.S3SecretKey)

	applyString(&cfg.DataDir, jc.DataDir)

	applyDuration(&cfg.LockPollInterval, jc.LockPollInterval)
	applyDuration(&cfg.LockGraceWindow, jc.LockGraceWindow)
	applyDuration(&cfg.IdleThreshold, jc.IdleThreshold)
	applyDuration(&cfg.SaveDebounce, jc.SaveDebounce)
	applyInt(&cfg.UploadConcurrency, jc.UploadConcurrency)
	applyInt(&cfg.MaxImageEdge, jc.MaxImageEdge)
	applyInt(&cfg.JPEGQuality, jc.JPEGQuality)
}
