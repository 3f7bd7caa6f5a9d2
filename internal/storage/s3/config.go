package s3

import (
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Config represents S3 backend configuration
type Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	MaxRetries      int    `yaml:"max_retries"`

	// StorageClass is one of the S3 storage class names; empty means STANDARD.
	StorageClass string `yaml:"storage_class"`

	// SkipHealthCheck disables the HeadBucket probe in NewBackend.
	SkipHealthCheck bool `yaml:"skip_health_check"`
}

// NewDefaultConfig returns a config for us-east-1 with three retries.
func NewDefaultConfig() *Config {
	return &Config{
		Region:     "us-east-1",
		MaxRetries: 3,
	}
}

func convertStorageClass(name string) s3types.StorageClass {
	switch s3types.StorageClass(name) {
	case s3types.StorageClassStandardIa,
		s3types.StorageClassOnezoneIa,
		s3types.StorageClassIntelligentTiering,
		s3types.StorageClassGlacierIr:
		return s3types.StorageClass(name)
	default:
		return s3types.StorageClassStandard
	}
}
