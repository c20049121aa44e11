package function_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/lambda-sizer/pkg/function"
	"github.com/opscart/lambda-sizer/pkg/function/functiontest"
	"github.com/opscart/lambda-sizer/pkg/pricing"
)

// lambdaEndpoint serves Invoke with the given function error header and a
// 128 MB / 30 s configuration.
func lambdaEndpoint(t *testing.T, functionError string) *function.AWSClient {
	t.Helper()

	report := base64.StdEncoding.EncodeToString([]byte(functiontest.Report(4.2, 5, 128, 0)))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/invocations"):
			w.Header().Set("X-Amz-Log-Result", report)
			if functionError != "" {
				w.Header().Set("X-Amz-Function-Error", functionError)
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"errorMessage":"Runtime exited with error: signal: killed"}`))
		case strings.HasSuffix(r.URL.Path, "/configuration"):
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"MemorySize":128,"Timeout":30,"Version":"$LATEST"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String("us-east-1"),
		Endpoint:    aws.String(srv.URL),
		Credentials: credentials.NewStaticCredentials("AKID", "SECRET", ""),
		MaxRetries:  aws.Int(0),
	})
	require.NoError(t, err)
	return function.NewAWSClient(sess)
}

func TestAWSClientInvokeReturnsReport(t *testing.T) {
	client := lambdaEndpoint(t, "")

	report, err := client.Invoke(context.Background(), arn, "", nil)
	require.NoError(t, err)
	assert.Contains(t, report, "Billed Duration: 5 ms")
}

func TestAWSClientInvokeFunctionError(t *testing.T) {
	client := lambdaEndpoint(t, "Unhandled")

	_, err := client.Invoke(context.Background(), arn, "", nil)
	var invocationErr *function.InvocationError
	require.ErrorAs(t, err, &invocationErr)
	assert.Equal(t, "Unhandled", invocationErr.Kind)
	assert.Contains(t, invocationErr.Payload, "signal: killed")

	// a crashed run is measured as the full timeout, not as its short report
	f := function.New(arn, client, pricing.DefaultRates(), zerolog.Nop())
	log, err := f.Invoke(context.Background(), "", nil)
	require.NoError(t, err)
	assert.True(t, log.Failed)
	assert.Equal(t, 30000.0, log.Duration)
	assert.Equal(t, 30000.0, log.BilledDuration)
	assert.Equal(t, 128, log.MemorySize)
}
