package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"edr-agent/internal/schema"
)

// S3Config configures the optional cold-storage archival sink. Trimmed
// from the teacher's s3.Config to the fields a single-object-per-batch
// upload needs; multipart tuning (PartSize/Concurrency) does not apply
// here since each flush uploads one newline-delimited JSON object well
// under the multipart threshold.
type S3Config struct {
	Region               string
	Bucket               string
	Prefix               string
	Endpoint             string
	AccessKeyID          string
	SecretAccessKey      string
	SessionToken         string
	StorageClass         string
	ServerSideEncryption string
	KMSKeyID             string
	UsePathStyle         bool
}

// DefaultS3Config mirrors the teacher's s3.DefaultConfig with this
// agent's own bucket/prefix naming.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:       "us-east-1",
		Bucket:       "edr-agent-archive",
		Prefix:       "events/",
		StorageClass: "INTELLIGENT_TIERING",
	}
}

func (c S3Config) storageClass() types.StorageClass {
	switch c.StorageClass {
	case "STANDARD":
		return types.StorageClassStandard
	case "STANDARD_IA":
		return types.StorageClassStandardIa
	case "GLACIER":
		return types.StorageClassGlacier
	case "DEEP_ARCHIVE":
		return types.StorageClassDeepArchive
	case "":
		return types.StorageClassStandard
	default:
		return types.StorageClassIntelligentTiering
	}
}

// S3Sink archives every flushed batch as one newline-delimited JSON
// object, keyed by flush time, for durable cold storage beyond the
// embedded store's retention.
type S3Sink struct {
	client *s3.Client
	cfg    S3Config
	log    *slog.Logger
}

// NewS3Sink builds an S3Sink, following the teacher's s3.NewClient
// option-building shape (static credentials, custom endpoint for
// S3-compatible stores, path-style addressing) but without the
// teacher's Pool/metrics machinery, which this single-sink use case
// does not need.
func NewS3Sink(ctx context.Context, cfg S3Config, log *slog.Logger) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("exporter: s3 bucket is required")
	}
	if log == nil {
		log = slog.Default()
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("exporter: s3 load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return &S3Sink{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		cfg:    cfg,
		log:    log,
	}, nil
}

// Name identifies this sink for log lines and metrics.
func (s *S3Sink) Name() string { return "s3" }

// WriteBatch marshals events as newline-delimited JSON and uploads them
// as one object under cfg.Prefix, named by the flush timestamp.
func (s *S3Sink) WriteBatch(ctx context.Context, events []schema.Event) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("exporter: s3 marshal event: %w", err)
		}
	}

	key := s.cfg.Prefix + fmt.Sprintf("%s.jsonl", time.Now().UTC().Format("20060102T150405.000000000Z"))

	putInput := &s3.PutObjectInput{
		Bucket:       aws.String(s.cfg.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(buf.Bytes()),
		ContentType:  aws.String("application/x-ndjson"),
		StorageClass: s.cfg.storageClass(),
	}
	if s.cfg.ServerSideEncryption == "AES256" {
		putInput.ServerSideEncryption = types.ServerSideEncryptionAes256
	} else if s.cfg.ServerSideEncryption == "aws:kms" {
		putInput.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if s.cfg.KMSKeyID != "" {
			putInput.SSEKMSKeyId = aws.String(s.cfg.KMSKeyID)
		}
	}

	if _, err := s.client.PutObject(ctx, putInput); err != nil {
		return fmt.Errorf("exporter: s3 upload %s: %w", key, err)
	}

	s.log.Debug("archived event batch to s3", slog.String("key", key), slog.Int("count", len(events)))
	return nil
}

// Close is a no-op: the AWS SDK client holds no resources that need
// releasing beyond what the process teardown already reclaims.
func (s *S3Sink) Close() error { return nil }
