package output

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/cenkalti/backoff/v4"

	"cloudbridge/internal/billing"
	"cloudbridge/internal/clock"
	"cloudbridge/internal/logging"
	"cloudbridge/internal/version"
)

const (
	defaultMaxRetries        = 3
	defaultRetryDelay        = 2 * time.Second
	defaultPartSize          = 5 * 1024 * 1024 // 5MB
	defaultConcurrentUploads = 5
	defaultOutputDir         = "output"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries int
	RetryDelay time.Duration
}

// UploadConfig holds upload configuration
type UploadConfig struct {
	PartSize        int64
	ConcurrentParts int
}

// Type represents the output type
type Type string

const (
	// FileSystem represents local filesystem output
	FileSystem Type = "filesystem"
	// S3 represents S3 bucket output
	S3 Type = "s3"
)

// Config holds output configuration
type Config struct {
	Type      Type
	OutputDir string
	S3Bucket  string
	S3Region  string
	S3Prefix  string
	// Profile is the AWS shared config profile used for S3 uploads
	Profile string
	Retry   *RetryConfig
	Upload  *UploadConfig
	// Progress receives the upload progress bar; nil means stderr
	Progress io.Writer
}

// Snapshot is the exported document
type Snapshot struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Version     string                `json:"version"`
	Summaries   []billing.CostSummary `json:"summaries"`
}

type uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// Writer writes summary snapshots to a directory or an S3 bucket
type Writer struct {
	config      Config
	clock       clock.Clock
	newUploader func(Config) (uploader, error)
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithWriterClock sets the time used for snapshot timestamps and paths
func WithWriterClock(c clock.Clock) WriterOption {
	return func(w *Writer) { w.clock = c }
}

// NewWriter creates a new output writer with default settings
func NewWriter(config Config, opts ...WriterOption) *Writer {
	if config.Retry == nil {
		config.Retry = &RetryConfig{
			MaxRetries: defaultMaxRetries,
			RetryDelay: defaultRetryDelay,
		}
	}
	if config.Upload == nil {
		config.Upload = &UploadConfig{
			PartSize:        defaultPartSize,
			ConcurrentParts: defaultConcurrentUploads,
		}
	}
	if config.Type == FileSystem && config.OutputDir == "" {
		config.OutputDir = defaultOutputDir
	}
	if config.Progress == nil {
		config.Progress = os.Stderr
	}

	w := &Writer{
		config:      config,
		clock:       clock.RealClock{},
		newUploader: newS3Uploader,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// objectPath returns YYYY/MM/DD/summary-HH-MM-SS-0700.json.gz
func objectPath(t time.Time) string {
	return path.Join(t.Format("2006/01/02"), "summary-"+t.Format("15-04-05-0700")+".json.gz")
}

// compressData compresses the input data using gzip
func compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to gzip writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Write exports summaries and returns the file path or S3 URI written
func (w *Writer) Write(ctx context.Context, summaries []billing.CostSummary) (string, error) {
	now := w.clock.Now()
	snapshot := Snapshot{
		GeneratedAt: now.UTC(),
		Version:     version.ShortString(),
		Summaries:   summaries,
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	compressed, err := compressData(data)
	if err != nil {
		return "", fmt.Errorf("failed to compress snapshot: %w", err)
	}

	rel := objectPath(now)
	switch w.config.Type {
	case FileSystem:
		target := filepath.Join(w.config.OutputDir, filepath.FromSlash(rel))
		return target, writeToFileSystem(target, compressed)
	case S3:
		key := path.Join(w.config.S3Prefix, rel)
		if err := w.writeToS3WithRetry(ctx, key, compressed); err != nil {
			return "", err
		}
		return fmt.Sprintf("s3://%s/%s", w.config.S3Bucket, key), nil
	default:
		return "", fmt.Errorf("unsupported output type: %s", w.config.Type)
	}
}

// writeToFileSystem writes compressed data to the local filesystem
func writeToFileSystem(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", target, err)
	}
	return nil
}

// writeToS3WithRetry uploads data, retrying at a fixed interval
func (w *Writer) writeToS3WithRetry(ctx context.Context, key string, data []byte) error {
	if w.config.S3Bucket == "" {
		return fmt.Errorf("S3 bucket not specified")
	}

	up, err := w.newUploader(w.config)
	if err != nil {
		return err
	}

	attempts := w.config.Retry.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(w.config.Retry.RetryDelay), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	err = backoff.RetryNotify(func() error {
		attempt++
		return w.writeToS3(ctx, up, key, data)
	}, policy, func(err error, wait time.Duration) {
		logging.Warn("Retrying S3 upload", map[string]interface{}{
			"attempt":  attempt + 1,
			"attempts": attempts,
			"wait_ms":  wait.Milliseconds(),
			"error":    err.Error(),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3 after %d attempts: %w", attempt, err)
	}
	return nil
}

func newS3Uploader(cfg Config) (uploader, error) {
	opts := session.Options{
		Profile:           cfg.Profile,
		SharedConfigState: session.SharedConfigEnable,
	}
	if cfg.S3Region != "" {
		opts.Config = aws.Config{Region: aws.String(cfg.S3Region)}
	}
	sess, err := session.NewSessionWithOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		u.PartSize = cfg.Upload.PartSize
		u.Concurrency = cfg.Upload.ConcurrentParts
	}), nil
}

// writeToS3 performs one upload with a progress bar
func (w *Writer) writeToS3(ctx context.Context, up uploader, key string, data []byte) error {
	reader := newProgressReader(bytes.NewReader(data), int64(len(data)), "Uploading to S3...", w.config.Progress)

	_, err := up.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:               aws.String(w.config.S3Bucket),
		Key:                  aws.String(key),
		Body:                 reader,
		ContentType:          aws.String("application/json"),
		ContentEncoding:      aws.String("gzip"),
		ServerSideEncryption: aws.String("aws:kms"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}
