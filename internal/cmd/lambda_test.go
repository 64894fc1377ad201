package cmd

import (
	"context"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubLambdaStart(t *testing.T) *any {
	t.Helper()
	var started any
	orig := lambdaStart
	lambdaStart = func(h any) { started = h }
	t.Cleanup(func() { lambdaStart = orig })
	return &started
}

func TestRunLambda_StartsHandler(t *testing.T) {
	t.Setenv("StorageAccount", "acct")
	t.Setenv("AzureAccessKey", "a2V5")
	t.Setenv("OutputContainer", "landing")
	initConfig()
	started := stubLambdaStart(t)

	require.NoError(t, runLambda(lambdaCmd, nil))

	require.NotNil(t, *started)
	_, ok := (*started).(func(context.Context, events.S3Event) (string, error))
	assert.True(t, ok, "handler has type %T", *started)
}

func TestRunLambda_InvalidConfiguration(t *testing.T) {
	t.Setenv("StorageAccount", "acct")
	t.Setenv("AzureAccessKey", "a2V5")
	t.Setenv("OutputContainer", "")
	t.Setenv("OUTPUT_CONTAINER", "")
	initConfig()
	started := stubLambdaStart(t)

	err := runLambda(lambdaCmd, nil)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
	assert.Nil(t, *started)
}

func TestRunLambda_BadAccessKey(t *testing.T) {
	t.Setenv("StorageAccount", "acct")
	t.Setenv("AzureAccessKey", "%%%")
	t.Setenv("OutputContainer", "landing")
	initConfig()
	started := stubLambdaStart(t)

	err := runLambda(lambdaCmd, nil)
	require.Error(t, err)
	assert.Nil(t, *started)
}
