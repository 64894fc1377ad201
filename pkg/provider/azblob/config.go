// Package azblob implements provider.BlockStager for Azure Blob Storage block blobs.
package azblob

import (
	"fmt"
	"net/url"
	"strings"
)

// Config configures an Azure block-blob stager.
//
// Authentication uses the storage account shared key. Endpoint defaults to the
// public cloud blob endpoint of Account; set it for Azurite or sovereign clouds
// (e.g. http://127.0.0.1:10000/devstoreaccount1).
type Config struct {
	// Account is the storage account name (required).
	Account string

	// AccessKey is the base64 storage account key (required).
	AccessKey string

	// Container is the destination container (required).
	Container string

	// Endpoint overrides the blob service URL.
	Endpoint string

	// MaxRetries is passed to the SDK retry policy. Zero keeps the SDK
	// default; a negative value disables retries.
	MaxRetries int32
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Account == "" {
		return &ConfigError{Field: "Account", Message: "storage account is required"}
	}
	if c.AccessKey == "" {
		return &ConfigError{Field: "AccessKey", Message: "access key is required"}
	}
	if c.Container == "" {
		return &ConfigError{Field: "Container", Message: "container name is required"}
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ConfigError{Field: "Endpoint", Message: fmt.Sprintf("invalid endpoint %q", c.Endpoint)}
		}
	}
	return nil
}

// ServiceURL returns the blob service URL with a trailing slash.
func (c *Config) ServiceURL() string {
	if c.Endpoint != "" {
		return strings.TrimRight(c.Endpoint, "/") + "/"
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", c.Account)
}

// ContainerURL returns the URL of the destination container.
func (c *Config) ContainerURL() string {
	return c.ServiceURL() + url.PathEscape(c.Container)
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "azblob config: " + e.Field + ": " + e.Message
}
