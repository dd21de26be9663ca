package config

import (
	"flag"
	"os"
	"time"

	"github.com/echovault/echovault/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-u string   S3 access key
//	-p string   S3 secret key
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-x int      presigned upload URL expiry, minutes
//	-w int      random-sample candidate window
//	-i int      reconciliation sweep interval, minutes
//	-v          verify blob existence before committing metadata (strict mode)
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers in minutes and then converted
//     to time.Duration values.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-u", "-p", "-b", "-g", "-e", "-x", "-w", "-i", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.S3AccessKey, "u", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "p", config.S3SecretKey, "S3 secret key")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	uploadURLExpiry := fs.Int("x", int(config.UploadURLExpiry.Minutes()), "upload URL expiry (in minutes)")
	fs.IntVar(&config.RandomSampleWindow, "w", config.RandomSampleWindow, "random-sample candidate window")
	sweepInterval := fs.Int("i", int(config.SweepInterval.Minutes()), "sweep interval (in minutes)")
	fs.BoolVar(&config.VerifyBlobOnCreate, "v", config.VerifyBlobOnCreate, "verify blob existence on create")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.UploadURLExpiry = time.Duration(*uploadURLExpiry) * time.Minute
	config.SweepInterval = time.Duration(*sweepInterval) * time.Minute
}
