package workflow

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sfn"
)

// AWSClient implements Client on AWS Step Functions
type AWSClient struct {
	sfn *sfn.SFN
}

func NewAWSClient(sess *session.Session) *AWSClient {
	return &AWSClient{sfn: sfn.New(sess)}
}

func (c *AWSClient) StartExecution(ctx context.Context, stateMachineID string, input []byte) (string, error) {
	out, err := c.sfn.StartExecutionWithContext(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(stateMachineID),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		return "", err
	}
	return aws.StringValue(out.ExecutionArn), nil
}

func (c *AWSClient) GetExecutionHistory(ctx context.Context, executionID string) ([]Event, error) {
	var events []Event
	err := c.sfn.GetExecutionHistoryPagesWithContext(ctx, &sfn.GetExecutionHistoryInput{
		ExecutionArn: aws.String(executionID),
	}, func(page *sfn.GetExecutionHistoryOutput, lastPage bool) bool {
		for _, e := range page.Events {
			events = append(events, Event{
				Type:     aws.StringValue(e.Type),
				Resource: scheduledResource(e),
			})
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// scheduledResource extracts the function of a scheduling event. Service
// integration tasks carry it in their JSON parameters.
func scheduledResource(e *sfn.HistoryEvent) string {
	if d := e.LambdaFunctionScheduledEventDetails; d != nil {
		return aws.StringValue(d.Resource)
	}
	if d := e.TaskScheduledEventDetails; d != nil && aws.StringValue(d.ResourceType) == "lambda" {
		var params struct {
			FunctionName string `json:"FunctionName"`
		}
		if err := json.Unmarshal([]byte(aws.StringValue(d.Parameters)), &params); err == nil {
			return params.FunctionName
		}
	}
	return ""
}

func (c *AWSClient) DescribeDefinition(ctx context.Context, stateMachineID string) ([]byte, error) {
	out, err := c.sfn.DescribeStateMachineWithContext(ctx, &sfn.DescribeStateMachineInput{
		StateMachineArn: aws.String(stateMachineID),
	})
	if err != nil {
		return nil, err
	}
	return []byte(aws.StringValue(out.Definition)), nil
}

func (c *AWSClient) DescribeExecution(ctx context.Context, executionID string) (*Execution, error) {
	out, err := c.sfn.DescribeExecutionWithContext(ctx, &sfn.DescribeExecutionInput{
		ExecutionArn: aws.String(executionID),
	})
	if err != nil {
		return nil, err
	}
	return &Execution{
		ID:    aws.StringValue(out.ExecutionArn),
		Start: aws.TimeValue(out.StartDate),
		Stop:  aws.TimeValue(out.StopDate),
	}, nil
}
