package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/3leaps/blobrelay/internal/config"
	"github.com/3leaps/blobrelay/internal/observability"
)

const serviceName = "blobrelay"

// lambdaRuntimeEnv is set by the Lambda runtime in every function instance.
const lambdaRuntimeEnv = "AWS_LAMBDA_RUNTIME_API"

type buildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = buildInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

var verbose bool

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Relay S3 objects into Azure block blobs",
	Long: `blobrelay streams an object from S3 into an Azure Storage block blob,
one part at a time, without holding the whole object in memory.

Inside AWS Lambda it serves S3 object-created events (see "blobrelay lambda").
From a shell, "blobrelay copy" relays a single object.

Settings are read from the environment; see "blobrelay lambda --help".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitCLILogger(serviceName, verbose)
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// initConfig binds relay settings to their environment names on the global
// viper instance.
func initConfig() {
	config.Bind(viper.GetViper())
}

// SetVersionInfo records build metadata reported by --version.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo = buildInfo{Version: version, Commit: commit, BuildDate: buildDate}
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate)
}

// Execute runs the root command. Inside a Lambda function with no arguments it
// runs the lambda command.
func Execute(ctx context.Context) error {
	if len(os.Args) == 1 && os.Getenv(lambdaRuntimeEnv) != "" {
		rootCmd.SetArgs([]string{lambdaCmd.Name()})
	}
	defer observability.Sync()
	return rootCmd.ExecuteContext(ctx)
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode returns the exit code carried by err, or 1.
func ExitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}
