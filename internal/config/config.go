// Package config resolves relay settings from the environment and CLI flags.
//
// Settings are read through viper. Each key is bound with BindEnv to the
// environment variable names used by existing deployments; the first name
// that is set wins. Command flags are applied by callers over the resolved
// Settings. Absent and blank values are both unset.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/3leaps/blobrelay/pkg/match"
	"github.com/3leaps/blobrelay/pkg/transfer"
)

// Viper keys.
const (
	KeyPartSizeMB            = "part_size_mb"
	KeyFlattenFilePaths      = "flatten_file_paths"
	KeyOutputFolderPath      = "output_folder_path"
	KeyDestinationAccount    = "destination_account"
	KeyDestinationAccessKey  = "destination_access_key"
	KeyDestinationContainer  = "destination_container"
	KeyDestinationEndpoint   = "destination_endpoint"
	KeyDestinationMaxRetries = "destination_max_retries"
	KeySourceRegion          = "source_region"
	KeySourceEndpoint        = "source_endpoint"
	KeySourceForcePathStyle  = "source_force_path_style"
	KeySourceInclude         = "source_include"
	KeySourceExclude         = "source_exclude"
	KeySourceExcludeHidden   = "source_exclude_hidden"
	KeySourceMinSize         = "source_min_size"
	KeySourceMaxSize         = "source_max_size"
	KeyStageRateLimitMBps    = "stage_rate_limit_mbps"
	KeyLogLevel              = "log_level"
)

// Part size bounds in MiB. One part is held in memory at a time.
const (
	MinPartSizeMB     = 5
	MaxPartSizeMB     = 100
	DefaultPartSizeMB = MaxPartSizeMB
)

var envNames = map[string][]string{
	KeyPartSizeMB:            {"FilePartSizeMB", "PART_SIZE_MB"},
	KeyFlattenFilePaths:      {"FlattenFilePaths", "FLATTEN_FILE_PATHS"},
	KeyOutputFolderPath:      {"OutputFolderPath", "OUTPUT_FOLDER_PATH"},
	KeyDestinationAccount:    {"StorageAccount", "AZURE_STORAGE_ACCOUNT"},
	KeyDestinationAccessKey:  {"AzureAccessKey", "AZURE_STORAGE_KEY"},
	KeyDestinationContainer:  {"OutputContainer", "OUTPUT_CONTAINER"},
	KeyDestinationEndpoint:   {"AzureBlobEndpoint", "AZURE_BLOB_ENDPOINT"},
	KeyDestinationMaxRetries: {"AzureMaxRetries", "AZURE_MAX_RETRIES"},
	KeySourceRegion:          {"SourceRegion", "AWS_REGION"},
	KeySourceEndpoint:        {"SourceEndpoint", "S3_ENDPOINT"},
	KeySourceForcePathStyle:  {"SourceForcePathStyle", "S3_FORCE_PATH_STYLE"},
	KeySourceInclude:         {"SourceInclude", "SOURCE_INCLUDE"},
	KeySourceExclude:         {"SourceExclude", "SOURCE_EXCLUDE"},
	KeySourceExcludeHidden:   {"SourceExcludeHidden", "SOURCE_EXCLUDE_HIDDEN"},
	KeySourceMinSize:         {"SourceMinSize", "SOURCE_MIN_SIZE"},
	KeySourceMaxSize:         {"SourceMaxSize", "SOURCE_MAX_SIZE"},
	KeyStageRateLimitMBps:    {"StageRateLimitMBps", "STAGE_RATE_LIMIT_MBPS"},
	KeyLogLevel:              {"LOG_LEVEL"},
}

// Settings are the resolved relay settings.
type Settings struct {
	PartSizeMB       int
	FlattenFilePaths bool

	// OutputFolderPath is normalized: forward slashes, no leading slash, one
	// trailing slash, or empty.
	OutputFolderPath string

	DestinationAccount    string
	DestinationAccessKey  string
	DestinationContainer  string
	DestinationEndpoint   string
	DestinationMaxRetries int32

	SourceRegion         string
	SourceEndpoint       string
	SourceForcePathStyle bool

	SourceInclude       []string
	SourceExclude       []string
	SourceExcludeHidden bool
	SourceMinSize       string
	SourceMaxSize       string

	// StageRateLimitMBps caps staged MiB per second; zero is unlimited.
	StageRateLimitMBps float64

	LogLevel string
}

// PartSizeBytes returns the part size in bytes.
func (s *Settings) PartSizeBytes() int64 {
	return int64(s.PartSizeMB) << 20
}

// StageRateLimitBytes returns the stage rate limit in bytes per second.
func (s *Settings) StageRateLimitBytes() float64 {
	return s.StageRateLimitMBps * (1 << 20)
}

// MatchConfig returns the source filter configuration.
func (s *Settings) MatchConfig() match.Config {
	return match.Config{
		Includes:      s.SourceInclude,
		Excludes:      s.SourceExclude,
		ExcludeHidden: s.SourceExcludeHidden,
		MinSize:       s.SourceMinSize,
		MaxSize:       s.SourceMaxSize,
	}
}

// ConfigError is a missing or invalid setting. It is raised before any
// transfer is attempted.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// New returns a viper instance with every setting bound to its environment
// names.
func New() *viper.Viper {
	v := viper.New()
	Bind(v)
	return v
}

// Bind binds every setting key of v to its environment names.
func Bind(v *viper.Viper) {
	for key, names := range envNames {
		_ = v.BindEnv(append([]string{key}, names...)...)
	}
	v.SetDefault(KeyPartSizeMB, DefaultPartSizeMB)
	v.SetDefault(KeyFlattenFilePaths, false)
	v.SetDefault(KeyLogLevel, "info")
}

// Load resolves Settings from v and validates them. Optional settings fall
// back to their defaults when blank or unparseable; a missing required
// setting is a *ConfigError.
func Load(v *viper.Viper) (*Settings, error) {
	s, err := Resolve(v)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Resolve parses Settings from v without checking required settings.
func Resolve(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		PartSizeMB:           parsePartSize(get(v, KeyPartSizeMB)),
		FlattenFilePaths:     parseBool(get(v, KeyFlattenFilePaths)),
		OutputFolderPath:     transfer.NormalizeOutputFolder(get(v, KeyOutputFolderPath)),
		DestinationAccount:   get(v, KeyDestinationAccount),
		DestinationAccessKey: get(v, KeyDestinationAccessKey),
		DestinationContainer: get(v, KeyDestinationContainer),
		DestinationEndpoint:  get(v, KeyDestinationEndpoint),
		SourceRegion:         get(v, KeySourceRegion),
		SourceEndpoint:       get(v, KeySourceEndpoint),
		SourceForcePathStyle: parseBool(get(v, KeySourceForcePathStyle)),
		SourceInclude:        match.SplitPatterns(get(v, KeySourceInclude)),
		SourceExclude:        match.SplitPatterns(get(v, KeySourceExclude)),
		SourceExcludeHidden:  parseBool(get(v, KeySourceExcludeHidden)),
		SourceMinSize:        get(v, KeySourceMinSize),
		SourceMaxSize:        get(v, KeySourceMaxSize),
		LogLevel:             strings.ToLower(get(v, KeyLogLevel)),
	}

	if raw := get(v, KeyDestinationMaxRetries); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, &ConfigError{Field: KeyDestinationMaxRetries, Message: fmt.Sprintf("not an integer: %q", raw)}
		}
		s.DestinationMaxRetries = int32(n)
	}

	if raw := get(v, KeyStageRateLimitMBps); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 {
			return nil, &ConfigError{Field: KeyStageRateLimitMBps, Message: fmt.Sprintf("must be a non-negative number: %q", raw)}
		}
		s.StageRateLimitMBps = f
	}
	return s, nil
}

// Validate checks required settings and the source filter.
func (s *Settings) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{KeyDestinationAccount, s.DestinationAccount},
		{KeyDestinationAccessKey, s.DestinationAccessKey},
		{KeyDestinationContainer, s.DestinationContainer},
	}
	for _, r := range required {
		if r.value == "" {
			return &ConfigError{Field: r.field, Message: "required setting is missing (env " + strings.Join(envNames[r.field], " or ") + ")"}
		}
	}

	if _, err := match.New(s.MatchConfig()); err != nil {
		return &ConfigError{Field: "source_filter", Message: err.Error()}
	}
	return nil
}

// get returns the trimmed string value of key; whitespace-only is empty.
func get(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func parsePartSize(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return DefaultPartSizeMB
	}
	return ClampPartSize(n)
}

// ClampPartSize bounds n to [MinPartSizeMB, MaxPartSizeMB].
func ClampPartSize(n int) int {
	if n < MinPartSizeMB {
		return MinPartSizeMB
	}
	if n > MaxPartSizeMB {
		return MaxPartSizeMB
	}
	return n
}

func parseBool(raw string) bool {
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return b
}
