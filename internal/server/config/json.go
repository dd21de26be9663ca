package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/echovault/echovault/internal/flagx"
	"github.com/echovault/echovault/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "15m" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON configuration
// files. After unmarshalling, its fields are copied into the runtime Config
// struct which uses time.Duration.
type JsonConfig struct {
	DatabaseDSN        string         `json:"database_dsn"`
	S3AccessKey        string         `json:"s3_access_key"`
	S3SecretKey        string         `json:"s3_secret_key"`
	S3Bucket           string         `json:"s3_bucket"`
	S3Region           string         `json:"s3_region"`
	S3BaseEndpoint     string         `json:"s3_base_endpoint"`
	S3UsePathStyle     bool           `json:"s3_use_path_style"`
	UploadURLExpiry    timex.Duration `json:"upload_url_expiry"`
	UploadMaxBytes     int64          `json:"upload_max_bytes"`
	VerifyBlobOnCreate bool           `json:"verify_blob_on_create"`
	RandomSampleWindow int            `json:"random_sample_window"`
	SweepInterval      timex.Duration `json:"sweep_interval"`
	OrphanBlobAge      timex.Duration `json:"orphan_blob_age"`
	OrphanMetadataAge  timex.Duration `json:"orphan_metadata_age"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path is taken from the -c or -config command-line flags. If neither
// is set, no JSON file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics.
//
// The caller is expected to merge these values with defaults and command-line
// flags as part of the full configuration process.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.DatabaseDSN = c.DatabaseDSN
	config.S3AccessKey = c.S3AccessKey
	config.S3SecretKey = c.S3SecretKey
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	config.S3UsePathStyle = c.S3UsePathStyle
	config.UploadURLExpiry = time.Duration(c.UploadURLExpiry.Duration)
	config.UploadMaxBytes = c.UploadMaxBytes
	config.VerifyBlobOnCreate = c.VerifyBlobOnCreate
	config.RandomSampleWindow = c.RandomSampleWindow
	config.SweepInterval = time.Duration(c.SweepInterval.Duration)
	config.OrphanBlobAge = time.Duration(c.OrphanBlobAge.Duration)
	config.OrphanMetadataAge = time.Duration(c.OrphanMetadataAge.Duration)
}
