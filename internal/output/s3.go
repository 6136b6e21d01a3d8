package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// S3Config contains S3-specific configuration
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `yaml:"bucket"`

	// Region is the AWS region
	Region string `yaml:"region"`

	// Prefix is the key prefix for objects
	Prefix string `yaml:"prefix,omitempty"`

	// KeyTemplate is the object key template; {{.Year}}, {{.Month}},
	// {{.Day}}, {{.Hour}}, {{.Minute}}, {{.Second}}, {{.Timestamp}} and
	// {{.UnixNano}} expand from the commit time
	KeyTemplate string `yaml:"key_template,omitempty"`

	// StorageClass is the S3 storage class (STANDARD, GLACIER, etc.)
	StorageClass string `yaml:"storage_class,omitempty"`

	// ServerSideEncryption specifies encryption (AES256, aws:kms)
	ServerSideEncryption string `yaml:"server_side_encryption,omitempty"`

	// ACL is the canned ACL (private, public-read, etc.)
	ACL string `yaml:"acl,omitempty"`

	// AccessKeyID for authentication (optional, uses default credentials if not set)
	AccessKeyID string `yaml:"access_key_id,omitempty"`

	// SecretAccessKey for authentication
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`

	// SessionToken for temporary credentials
	SessionToken string `yaml:"session_token,omitempty"`

	// Endpoint for S3-compatible services (e.g., MinIO)
	Endpoint string `yaml:"endpoint,omitempty"`

	// UsePathStyle forces path-style addressing
	UsePathStyle bool `yaml:"use_path_style,omitempty"`

	// ContentType for uploaded objects
	ContentType string `yaml:"content_type,omitempty"`

	// Compression is applied to each object body
	Compression CompressionType `yaml:"compression,omitempty"`
}

// DefaultS3Config returns default S3 configuration
func DefaultS3Config() S3Config {
	return S3Config{
		Region:       "us-east-1",
		Prefix:       "events/",
		KeyTemplate:  "{{.Year}}/{{.Month}}/{{.Day}}/{{.Hour}}/{{.UnixNano}}.ndjson",
		StorageClass: "STANDARD",
		ACL:          "private",
		ContentType:  "application/x-ndjson",
		Compression:  CompressionGzip,
	}
}

// Validate checks the S3 configuration
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3: no bucket specified")
	}
	if c.Region == "" {
		return errors.New("s3: no region specified")
	}
	if _, err := CodecFor(c.Compression); err != nil {
		return fmt.Errorf("s3: %w", err)
	}
	return nil
}

// S3 archives every commit as one newline-delimited JSON object
type S3 struct {
	config S3Config
	codec  Codec
	now    func() time.Time

	mu     sync.Mutex
	client *s3.Client
}

// NewS3 creates an S3 backend. The client is built on Connect.
func NewS3(config S3Config) (*S3, error) {
	if config.Compression == "" {
		config.Compression = CompressionNone
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	codec, _ := CodecFor(config.Compression)
	return &S3{config: config, codec: codec, now: time.Now}, nil
}

// Connect loads AWS configuration and creates the client
func (s *S3) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s.config.Region)}
	if s.config.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.config.AccessKeyID, s.config.SecretAccessKey, s.config.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if s.config.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(s.config.Endpoint)
			o.UsePathStyle = s.config.UsePathStyle
		})
	}

	s.client = s3.NewFromConfig(cfg, opts...)
	return nil
}

// Send uploads the batch as a single object
func (s *S3) Send(ctx context.Context, recs []types.Record) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return errors.New("s3 client not connected")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
	}

	body, err := s.codec.Encode(buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to compress data: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.objectKey(s.now())),
		Body:   bytes.NewReader(body),
	}
	if s.config.ContentType != "" {
		input.ContentType = aws.String(s.config.ContentType)
	}
	if s.config.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(s.config.StorageClass)
	}
	if s.config.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(s.config.ACL)
	}
	if s.config.ServerSideEncryption != "" {
		input.ServerSideEncryption = s3types.ServerSideEncryption(s.config.ServerSideEncryption)
	}
	if s.codec.ContentEncoding != "" {
		input.ContentEncoding = aws.String(s.codec.ContentEncoding)
	}

	if _, err := client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// objectKey expands the key template for t
func (s *S3) objectKey(t time.Time) string {
	key := s.config.KeyTemplate
	if key == "" {
		key = "{{.UnixNano}}.ndjson"
	}

	t = t.UTC()
	replacer := strings.NewReplacer(
		"{{.Year}}", fmt.Sprintf("%04d", t.Year()),
		"{{.Month}}", fmt.Sprintf("%02d", t.Month()),
		"{{.Day}}", fmt.Sprintf("%02d", t.Day()),
		"{{.Hour}}", fmt.Sprintf("%02d", t.Hour()),
		"{{.Minute}}", fmt.Sprintf("%02d", t.Minute()),
		"{{.Second}}", fmt.Sprintf("%02d", t.Second()),
		"{{.Timestamp}}", fmt.Sprintf("%d", t.Unix()),
		"{{.UnixNano}}", fmt.Sprintf("%d", t.UnixNano()),
	)
	return s.config.Prefix + replacer.Replace(key) + s.codec.Extension
}

// Close drops the client
func (s *S3) Close(ctx context.Context) error {
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()
	return nil
}
