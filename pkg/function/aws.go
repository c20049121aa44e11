package function

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go/service/lambda"
)

// AWSClient implements Client on AWS Lambda
type AWSClient struct {
	lambda *lambda.Lambda
}

func NewAWSClient(sess *session.Session) *AWSClient {
	return &AWSClient{lambda: lambda.New(sess)}
}

func (c *AWSClient) Invoke(ctx context.Context, functionID, qualifier string, payload []byte) (string, error) {
	input := &lambda.InvokeInput{
		FunctionName: aws.String(functionID),
		Payload:      payload,
		LogType:      aws.String(lambda.LogTypeTail),
	}
	if qualifier != "" {
		input.Qualifier = aws.String(qualifier)
	}

	out, err := c.lambda.InvokeWithContext(ctx, input)
	if err != nil {
		return "", err
	}
	if out.FunctionError != nil {
		return "", &InvocationError{Kind: aws.StringValue(out.FunctionError), Payload: string(out.Payload)}
	}
	if out.LogResult == nil {
		return "", errors.New("invocation returned no log result")
	}

	decoded, err := base64.StdEncoding.DecodeString(aws.StringValue(out.LogResult))
	if err != nil {
		return "", fmt.Errorf("failed to decode log result: %w", err)
	}
	return string(decoded), nil
}

func (c *AWSClient) GetConfiguration(ctx context.Context, functionID, qualifier string) (*Configuration, error) {
	input := &lambda.GetFunctionConfigurationInput{FunctionName: aws.String(functionID)}
	if qualifier != "" {
		input.Qualifier = aws.String(qualifier)
	}

	out, err := c.lambda.GetFunctionConfigurationWithContext(ctx, input)
	if err != nil {
		return nil, err
	}

	cfg := &Configuration{
		MemorySize:     int(aws.Int64Value(out.MemorySize)),
		TimeoutSeconds: int(aws.Int64Value(out.Timeout)),
		Version:        aws.StringValue(out.Version),
	}
	if len(out.Architectures) > 0 {
		cfg.Architecture = aws.StringValue(out.Architectures[0])
	}
	return cfg, nil
}

func (c *AWSClient) SetMemorySize(ctx context.Context, functionID string, memoryMB int) error {
	_, err := c.lambda.UpdateFunctionConfigurationWithContext(ctx, &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(functionID),
		MemorySize:   aws.Int64(int64(memoryMB)),
	})
	if err != nil {
		return err
	}

	// Publishing fails while the update is still in progress.
	return c.lambda.WaitUntilFunctionUpdatedWithContext(ctx, &lambda.GetFunctionConfigurationInput{
		FunctionName: aws.String(functionID),
	})
}

func (c *AWSClient) PublishVersion(ctx context.Context, functionID string) (string, error) {
	out, err := c.lambda.PublishVersionWithContext(ctx, &lambda.PublishVersionInput{
		FunctionName: aws.String(functionID),
	})
	if err != nil {
		return "", err
	}
	return aws.StringValue(out.Version), nil
}

func (c *AWSClient) GetAlias(ctx context.Context, functionID, alias string) (*Alias, bool, error) {
	out, err := c.lambda.GetAliasWithContext(ctx, &lambda.GetAliasInput{
		FunctionName: aws.String(functionID),
		Name:         aws.String(alias),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == lambda.ErrCodeResourceNotFoundException {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &Alias{
		Name:            aws.StringValue(out.Name),
		FunctionVersion: aws.StringValue(out.FunctionVersion),
	}, true, nil
}

func (c *AWSClient) CreateAlias(ctx context.Context, functionID, alias, version string) error {
	_, err := c.lambda.CreateAliasWithContext(ctx, &lambda.CreateAliasInput{
		FunctionName:    aws.String(functionID),
		FunctionVersion: aws.String(version),
		Name:            aws.String(alias),
	})
	return err
}

func (c *AWSClient) UpdateAlias(ctx context.Context, functionID, alias, version string) error {
	_, err := c.lambda.UpdateAliasWithContext(ctx, &lambda.UpdateAliasInput{
		FunctionName:    aws.String(functionID),
		FunctionVersion: aws.String(version),
		Name:            aws.String(alias),
	})
	return err
}

func (c *AWSClient) DeleteAlias(ctx context.Context, functionID, alias string) error {
	_, err := c.lambda.DeleteAliasWithContext(ctx, &lambda.DeleteAliasInput{
		FunctionName: aws.String(functionID),
		Name:         aws.String(alias),
	})
	return err
}

func (c *AWSClient) DeleteVersion(ctx context.Context, functionID, version string) error {
	_, err := c.lambda.DeleteFunctionWithContext(ctx, &lambda.DeleteFunctionInput{
		FunctionName: aws.String(functionID),
		Qualifier:    aws.String(version),
	})
	return err
}

func (c *AWSClient) ListAliases(ctx context.Context, functionID string) ([]Alias, error) {
	var aliases []Alias
	err := c.lambda.ListAliasesPagesWithContext(ctx, &lambda.ListAliasesInput{
		FunctionName: aws.String(functionID),
	}, func(page *lambda.ListAliasesOutput, lastPage bool) bool {
		for _, a := range page.Aliases {
			aliases = append(aliases, Alias{
				Name:            aws.StringValue(a.Name),
				FunctionVersion: aws.StringValue(a.FunctionVersion),
			})
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return aliases, nil
}

// CloudWatchReports reads execution reports from CloudWatch Logs.
type CloudWatchReports struct {
	logs *cloudwatchlogs.CloudWatchLogs
}

func NewCloudWatchReports(sess *session.Session) *CloudWatchReports {
	return &CloudWatchReports{logs: cloudwatchlogs.New(sess)}
}

func (r *CloudWatchReports) LatestReport(ctx context.Context, functionID string) (string, bool, error) {
	group := LogGroupName(functionID)

	streams, err := r.logs.DescribeLogStreamsWithContext(ctx, &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName: aws.String(group),
		OrderBy:      aws.String(cloudwatchlogs.OrderByLastEventTime),
		Descending:   aws.Bool(true),
		Limit:        aws.Int64(1),
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to describe log streams of %s: %w", group, err)
	}
	if len(streams.LogStreams) == 0 {
		return "", false, nil
	}

	events, err := r.logs.GetLogEventsWithContext(ctx, &cloudwatchlogs.GetLogEventsInput{
		LogGroupName:  aws.String(group),
		LogStreamName: streams.LogStreams[0].LogStreamName,
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to get log events of %s: %w", group, err)
	}

	for i := len(events.Events) - 1; i >= 0; i-- {
		message := aws.StringValue(events.Events[i].Message)
		if strings.HasPrefix(message, "REPORT") {
			return message, true, nil
		}
	}
	return "", false, nil
}

// LogGroupName maps a function identity to its log group, dropping any
// alias or version suffix.
func LogGroupName(functionID string) string {
	name := functionID
	if i := strings.LastIndex(name, ":function:"); i >= 0 {
		name = name[i+len(":function:"):]
	}
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[:i]
	}
	return "/aws/lambda/" + name
}
