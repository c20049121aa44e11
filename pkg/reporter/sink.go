package reporter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/hashicorp/go-multierror"

	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/workflow"
)

// ResourceName is the short name of a function or state machine ARN, used
// for directory names.
func ResourceName(id string) string {
	for _, marker := range []string{":function:", ":stateMachine:"} {
		if i := strings.LastIndex(id, marker); i >= 0 {
			name := id[i+len(marker):]
			if j := strings.Index(name, ":"); j >= 0 {
				name = name[:j]
			}
			return name
		}
	}
	return strings.NewReplacer("/", "_", ":", "_").Replace(id)
}

// FileSink writes logs to <dir>/<resource>/<name>.csv
type FileSink struct {
	dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

func (s *FileSink) Path(id, name string) string {
	return filepath.Join(s.dir, ResourceName(id), name+".csv")
}

func (s *FileSink) SaveLogs(ctx context.Context, functionID, name string, logs []models.ExecutionLog) error {
	var buf bytes.Buffer
	if err := WriteLogsCSV(&buf, logs); err != nil {
		return err
	}
	return s.write(s.Path(functionID, name), buf.Bytes())
}

func (s *FileSink) SaveRuns(ctx context.Context, stateMachineID, name string, runs []workflow.ExecutionLog) error {
	var buf bytes.Buffer
	if err := WriteRunsCSV(&buf, runs); err != nil {
		return err
	}
	return s.write(s.Path(stateMachineID, name), buf.Bytes())
}

func (s *FileSink) write(file string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", file, err)
	}
	return nil
}

// S3Archive uploads logs to s3://<bucket>/<prefix>/<resource>/<name>.csv
type S3Archive struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

func NewS3Archive(sess *session.Session, bucket, prefix string) *S3Archive {
	return &S3Archive{uploader: s3manager.NewUploader(sess), bucket: bucket, prefix: prefix}
}

func (a *S3Archive) Key(id, name string) string {
	return path.Join(a.prefix, ResourceName(id), name+".csv")
}

func (a *S3Archive) SaveLogs(ctx context.Context, functionID, name string, logs []models.ExecutionLog) error {
	var buf bytes.Buffer
	if err := WriteLogsCSV(&buf, logs); err != nil {
		return err
	}
	return a.upload(ctx, a.Key(functionID, name), &buf)
}

func (a *S3Archive) SaveRuns(ctx context.Context, stateMachineID, name string, runs []workflow.ExecutionLog) error {
	var buf bytes.Buffer
	if err := WriteRunsCSV(&buf, runs); err != nil {
		return err
	}
	return a.upload(ctx, a.Key(stateMachineID, name), &buf)
}

func (a *S3Archive) upload(ctx context.Context, key string, body *bytes.Buffer) error {
	_, err := a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}

// Sink is what FileSink and S3Archive both implement.
type Sink interface {
	SaveLogs(ctx context.Context, functionID, name string, logs []models.ExecutionLog) error
	SaveRuns(ctx context.Context, stateMachineID, name string, runs []workflow.ExecutionLog) error
}

// MultiSink writes to every sink and reports all failures.
type MultiSink []Sink

func (m MultiSink) SaveLogs(ctx context.Context, functionID, name string, logs []models.ExecutionLog) error {
	var result *multierror.Error
	for _, s := range m {
		if err := s.SaveLogs(ctx, functionID, name, logs); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (m MultiSink) SaveRuns(ctx context.Context, stateMachineID, name string, runs []workflow.ExecutionLog) error {
	var result *multierror.Error
	for _, s := range m {
		if err := s.SaveRuns(ctx, stateMachineID, name, runs); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
