package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/blobrelay/internal/config"
	"github.com/3leaps/blobrelay/internal/handler"
	"github.com/3leaps/blobrelay/internal/observability"
	"github.com/3leaps/blobrelay/pkg/match"
	"github.com/3leaps/blobrelay/pkg/output"
	"github.com/3leaps/blobrelay/pkg/provider"
	"github.com/3leaps/blobrelay/pkg/provider/file"
	"github.com/3leaps/blobrelay/pkg/provider/memblob"
	"github.com/3leaps/blobrelay/pkg/provider/s3"
	"github.com/3leaps/blobrelay/pkg/transfer"
)

var copyCmd = &cobra.Command{
	Use:   "copy <uri>",
	Short: "Relay one object into Azure (JSONL)",
	Long: `Relay a single object into the configured Azure container.

Sources:
- s3://bucket/key
- file:///path/to/file (keys are relative to --root)

Destination settings come from the same environment as the lambda command;
flags override them. With --dry-run, blocks are staged in memory and nothing
is written to Azure, so no Azure credentials are needed.

Output is JSONL on stdout: a blobrelay.plan.v1 record, then a
blobrelay.transfer.v1 record on success. Failures are emitted as
blobrelay.error.v1 records; filtered objects as blobrelay.skip.v1.
`,
	Args: cobra.ExactArgs(1),
	RunE: runCopy,
}

var (
	copyContainer    string
	copyDestKey      string
	copyPartSizeMB   int
	copyFlatten      bool
	copyOutputFolder string
	copyDryRun       bool
	copyRoot         string
	copyRegion       string
	copyProfile      string
	copyEndpoint     string
)

func init() {
	rootCmd.AddCommand(copyCmd)

	copyCmd.Flags().StringVar(&copyContainer, "container", "", "Destination container (overrides OutputContainer)")
	copyCmd.Flags().StringVar(&copyDestKey, "dest-key", "", "Destination key (overrides flatten and output folder)")
	copyCmd.Flags().IntVar(&copyPartSizeMB, "part-size-mb", 0, fmt.Sprintf("Part size in MiB, clamped to [%d, %d]", config.MinPartSizeMB, config.MaxPartSizeMB))
	copyCmd.Flags().BoolVar(&copyFlatten, "flatten", false, "Drop the first path segment of the source key")
	copyCmd.Flags().StringVar(&copyOutputFolder, "output-folder", "", "Destination key prefix")
	copyCmd.Flags().BoolVar(&copyDryRun, "dry-run", false, "Stage blocks in memory instead of Azure")
	copyCmd.Flags().StringVar(&copyRoot, "root", ".", "Base directory for file:// sources")
	copyCmd.Flags().StringVarP(&copyRegion, "region", "r", "", "AWS region")
	copyCmd.Flags().StringVarP(&copyProfile, "profile", "p", "", "AWS profile")
	copyCmd.Flags().StringVar(&copyEndpoint, "endpoint", "", "Custom S3 endpoint")
}

func runCopy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	parsed, err := ParseURI(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}
	if parsed.IsPrefix() {
		return exitError(foundry.ExitInvalidArgument, "copy requires an exact object", fmt.Errorf("provide an object URI without a trailing '/': %s", parsed))
	}

	settings, err := copySettings(cmd)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	matcher, err := match.New(settings.MatchConfig())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid source filter", err)
	}

	src, key, err := openCopySource(ctx, parsed, settings)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage provider", err)
	}
	defer func() { _ = src.Close() }()

	stager, err := copyStager(settings)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to configure destination", err)
	}

	jobID := uuid.New().String()
	w := output.NewJSONLWriter(cmd.OutOrStdout(), jobID, parsed.Provider)
	defer func() { _ = w.Close() }()

	log := observability.CLILogger.With(zap.String("job_id", jobID))

	// HEAD first: the plan record needs the size before any bytes move.
	meta, err := src.Head(ctx, key)
	if err != nil {
		_ = w.WriteError(ctx, output.NewErrorRecord(key, err))
		return exitError(copyExitCode(err), "Head failed", err)
	}

	if reason := matcher.Reject(key, meta.Size); reason != "" {
		log.Info("Object skipped by source filter", zap.String("source_key", key), zap.String("reason", reason), zap.Stringer("filter", matcher))
		if err := w.WriteSkip(ctx, &output.SkipRecord{SourceKey: key, Reason: reason}); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write skip record", err)
		}
		return nil
	}

	engine := transfer.New(src, stager, log, transfer.Options{
		Flatten:        settings.FlattenFilePaths,
		OutputFolder:   settings.OutputFolderPath,
		StageRateLimit: settings.StageRateLimitBytes(),
	})
	req := transfer.Request{
		Source:        transfer.Locator{Container: parsed.Bucket, Key: key},
		Destination:   transfer.Locator{Container: settings.DestinationContainer, Key: copyDestKey},
		PartSizeBytes: settings.PartSizeBytes(),
	}

	plan := &output.PlanRecord{
		SourceKey:      key,
		Container:      settings.DestinationContainer,
		DestinationKey: engine.DestinationKey(req),
		Size:           meta.Size,
		PartSize:       req.PartSizeBytes,
		Parts:          transfer.Plan(meta.Size, req.PartSizeBytes),
		ContentType:    meta.ContentType,
	}
	if err := w.WritePlan(ctx, plan); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write plan record", err)
	}

	res, err := engine.Run(ctx, req)
	if err != nil {
		_ = w.WriteError(context.WithoutCancel(ctx), output.NewErrorRecord(key, err))
		return exitError(copyExitCode(err), "Transfer failed", err)
	}

	rec := &output.TransferRecord{
		SourceKey:      key,
		Container:      settings.DestinationContainer,
		DestinationKey: res.DestinationKey,
		Parts:          res.Parts,
		Bytes:          res.Bytes,
		BlockIDs:       res.Manifest,
		ContentType:    meta.ContentType,
		DryRun:         copyDryRun,
		Duration:       res.Duration,
		DurationHuman:  res.Duration.Round(time.Millisecond).String(),
	}
	if err := w.WriteTransfer(ctx, rec); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write transfer record", err)
	}
	return nil
}

// copySettings resolves settings from the environment and applies flag
// overrides. Boolean and string flags override only when set explicitly, so
// --flatten=false wins over FlattenFilePaths=true. Destination credentials
// are only required outside dry runs.
func copySettings(cmd *cobra.Command) (*config.Settings, error) {
	settings, err := config.Resolve(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if copyContainer != "" {
		settings.DestinationContainer = copyContainer
	}
	if copyPartSizeMB > 0 {
		settings.PartSizeMB = config.ClampPartSize(copyPartSizeMB)
	}
	if cmd.Flags().Changed("flatten") {
		settings.FlattenFilePaths = copyFlatten
	}
	if cmd.Flags().Changed("output-folder") {
		settings.OutputFolderPath = transfer.NormalizeOutputFolder(copyOutputFolder)
	}
	if copyRegion != "" {
		settings.SourceRegion = copyRegion
	}
	if copyEndpoint != "" {
		settings.SourceEndpoint = copyEndpoint
		settings.SourceForcePathStyle = true
	}

	if copyDryRun {
		if settings.DestinationContainer == "" {
			settings.DestinationContainer = "dry-run"
		}
		return settings, nil
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// openCopySource opens the source named by u and returns the key to read.
func openCopySource(ctx context.Context, u *SourceURI, settings *config.Settings) (provider.Source, string, error) {
	if u.Provider == string(provider.ProviderFile) {
		key, err := fileKey(copyRoot, u.Key)
		if err != nil {
			return nil, "", err
		}
		src, err := file.New(file.Config{BaseDir: copyRoot})
		if err != nil {
			return nil, "", err
		}
		return src, key, nil
	}

	src, err := s3.New(ctx, s3.Config{
		Bucket:         u.Bucket,
		Region:         settings.SourceRegion,
		Endpoint:       settings.SourceEndpoint,
		Profile:        copyProfile,
		ForcePathStyle: settings.SourceForcePathStyle,
	})
	if err != nil {
		return nil, "", err
	}
	return src, u.Key, nil
}

// fileKey returns path relative to root as a slash-separated key.
func fileKey(root, path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return "", err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is not under root %s", ErrInvalidURI, path, root)
	}
	return filepath.ToSlash(rel), nil
}

func copyStager(settings *config.Settings) (provider.BlockStager, error) {
	if copyDryRun {
		return memblob.New(settings.DestinationContainer), nil
	}
	stager, err := handler.NewStager(settings)
	if err != nil {
		return nil, err
	}
	return stager, nil
}

func copyExitCode(err error) int {
	switch {
	case transfer.IsCanceled(err):
		return foundry.ExitSignalInt
	case provider.IsNotFound(err):
		return foundry.ExitFileNotFound
	default:
		return foundry.ExitExternalServiceUnavailable
	}
}
