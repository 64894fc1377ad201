package cmd

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/blobrelay/internal/config"
	"github.com/3leaps/blobrelay/internal/handler"
	"github.com/3leaps/blobrelay/internal/observability"
)

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Serve S3 object-created events",
	Long: `Run as an AWS Lambda function. Each invocation relays the first record of
an S3 event into the configured Azure container and returns the object's
content type.

Environment:
  StorageAccount      Azure storage account (required)
  AzureAccessKey      Azure shared key (required)
  OutputContainer     destination container (required)
  FilePartSizeMB      part size in MiB, clamped to [5, 100] (default 100)
  FlattenFilePaths    "true" drops the first key segment
  OutputFolderPath    destination key prefix
  SourceInclude       comma-separated glob patterns to relay
  SourceExclude       comma-separated glob patterns to ignore
  SourceExcludeHidden "true" ignores keys with a segment starting with '.'
  SourceMinSize       minimum object size (e.g. 1KiB)
  SourceMaxSize       maximum object size (e.g. 5GiB)
  StageRateLimitMBps  staging throughput cap in MiB/s
  AzureMaxRetries     Azure SDK retries per request (negative disables)
  LOG_LEVEL           debug, info, warn or error
`,
	Args: cobra.NoArgs,
	RunE: runLambda,
}

// lambdaStart hands the handler to the Lambda runtime. It does not return.
var lambdaStart = func(h any) { lambda.Start(h) }

func init() {
	rootCmd.AddCommand(lambdaCmd)
}

func runLambda(cmd *cobra.Command, args []string) error {
	settings, err := config.Load(viper.GetViper())
	if err != nil {
		observability.CLILogger.Error("Invalid configuration", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	h, err := handler.NewFromSettings(settings, observability.CLILogger)
	if err != nil {
		observability.CLILogger.Error("Failed to initialize handler", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize handler", err)
	}

	observability.CLILogger.Info("Relay function starting",
		zap.String("version", versionInfo.Version),
		zap.String("container", settings.DestinationContainer),
		zap.Int("part_size_mb", settings.PartSizeMB),
		zap.Bool("flatten", settings.FlattenFilePaths),
		zap.String("output_folder", settings.OutputFolderPath))

	lambdaStart(h.Handle)
	return nil
}
