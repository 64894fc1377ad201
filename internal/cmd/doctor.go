package cmd

import (
	"context"
	"fmt"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/blobrelay/internal/config"
	"github.com/3leaps/blobrelay/internal/handler"
	"github.com/3leaps/blobrelay/internal/observability"
)

var doctorConnect bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Check the runtime, relay settings and AWS credentials the function would use.

Examples:
  blobrelay doctor             # Settings and credential checks
  blobrelay doctor --connect   # Also create/verify the destination container`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorConnect, "connect", false, "Contact Azure to verify the destination container")
}

// doctorSteps numbers check lines as [n/total].
type doctorSteps struct {
	log   *zap.Logger
	n     int
	total int
}

func (s *doctorSteps) pass(name, detail string, fields ...zap.Field) {
	s.n++
	s.log.Info(fmt.Sprintf("[%d/%d] %s... ✅ %s", s.n, s.total, name, detail), fields...)
}

func (s *doctorSteps) fail(name, detail string, err error) {
	s.n++
	s.log.Error(fmt.Sprintf("[%d/%d] %s... ❌ %s", s.n, s.total, name, detail), zap.Error(err))
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := observability.CLILogger
	steps := &doctorSteps{log: log, total: 3}
	if doctorConnect {
		steps.total++
	}

	log.Info("=== blobrelay doctor ===")
	steps.pass("Checking environment", fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
		zap.String("go_version", runtime.Version()))

	settings, err := config.Load(viper.GetViper())
	if err != nil {
		steps.fail("Checking relay settings", "", err)
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	steps.pass("Checking relay settings", settings.DestinationContainer,
		zap.String("account", settings.DestinationAccount),
		zap.String("access_key", maskAccessKey(settings.DestinationAccessKey)),
		zap.Int("part_size_mb", settings.PartSizeMB),
		zap.Bool("flatten", settings.FlattenFilePaths),
		zap.String("output_folder", settings.OutputFolderPath))

	credsOK := checkAWSCredentials(ctx, steps, settings)

	if doctorConnect {
		stager, err := handler.NewStager(settings)
		if err == nil {
			err = stager.EnsureContainer(ctx)
		}
		if err != nil {
			steps.fail("Checking destination container", "", err)
			return exitError(foundry.ExitExternalServiceUnavailable, "Destination container unavailable", err)
		}
		steps.pass("Checking destination container", settings.DestinationContainer)
	}

	if credsOK {
		log.Info("✅ All checks passed.")
	} else {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	return nil
}

// checkAWSCredentials resolves the credential chain the source reads with.
func checkAWSCredentials(ctx context.Context, steps *doctorSteps, settings *config.Settings) bool {
	const name = "Checking AWS credentials"

	var opts []func(*awsconfig.LoadOptions) error
	if settings.SourceRegion != "" {
		opts = append(opts, awsconfig.WithRegion(settings.SourceRegion))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		steps.fail(name, "Cannot load AWS config", err)
		printAWSCredentialsHelp()
		return false
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		steps.fail(name, "Cannot retrieve credentials", err)
		printAWSCredentialsHelp()
		return false
	}

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	steps.pass(name, "Found credentials",
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", source),
		zap.String("region", cfg.Region))
	return true
}

// maskAccessKey keeps only the last four characters of a key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	for _, line := range []string{
		"Source objects are read with the AWS default credential chain:",
		"  - the function's execution role when running in Lambda",
		"  - AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY",
		"  - a shared profile selected with AWS_PROFILE",
		"For S3-compatible storage, also set S3_ENDPOINT.",
	} {
		observability.CLILogger.Info(line)
	}
}
