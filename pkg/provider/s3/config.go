// Package s3 reads relay source objects from AWS S3 and S3-compatible stores.
package s3

// DefaultAWSRegion is used for AWS S3 when neither the config nor the SDK
// chain names a region.
const DefaultAWSRegion = "us-east-1"

// Config selects the bucket and how to reach it. Without a static key pair
// the SDK default chain is used, which inside Lambda is the execution role.
type Config struct {
	Bucket string

	// Region overrides the SDK-resolved region.
	Region string

	// Endpoint targets an S3-compatible store such as MinIO or moto. Empty
	// means AWS S3.
	Endpoint string

	// Profile selects a shared config profile.
	Profile string

	// AccessKeyID and SecretAccessKey form a static key pair; set both or
	// neither.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle puts the bucket in the path instead of the host name.
	ForcePathStyle bool
}

// Validate checks the bucket and the key pair.
func (c *Config) Validate() error {
	switch {
	case c.Bucket == "":
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	case (c.AccessKeyID == "") != (c.SecretAccessKey == ""):
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError reports an invalid Config field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
