package config

import (
	"flag"
	"os"

	"inspectra/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-r string   remote Postgres DSN
//	-d string   local data directory (draft DB and lock file)
//	-b string   S3 bucket for photo payloads
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-r", "-d", "-b"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.RemoteDSN, "r", cfg.RemoteDSN, "remote Postgres DSN")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "local data directory")
	fs.StringVar(&cfg.S3Bucket, "b", cfg.S3Bucket, "S3 bucket for photos")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
