package logic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
)

// s3API is the subset of the S3 client this plugin exercises, enabling test
// mocking, grounded on the teacher's internal/recordings/storage_s3.go
// S3API interface.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// AuditArchiveConfig configures where deleted-entity snapshots land.
type AuditArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // non-empty targets a MinIO-style S3-compatible endpoint
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// AuditArchive is a LogicPlugin whose Postprocess hook, on a DELETE, archives
// the deleted entity's JSON snapshot to S3, grounded on the teacher's
// internal/recordings/storage_s3.go NewS3Store/Save.
type AuditArchive struct {
	plugins.Base
	client s3API
	bucket string
	prefix string
}

// NewAuditArchive builds an archiver from AWS defaults (or static
// credentials, when both are provided).
func NewAuditArchive(ctx context.Context, cfg AuditArchiveConfig) (*AuditArchive, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("audit_archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return NewAuditArchiveWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix), nil
}

// NewAuditArchiveWithClient builds an archiver with an injected client, for
// tests.
func NewAuditArchiveWithClient(client s3API, bucket, prefix string) *AuditArchive {
	return &AuditArchive{
		Base:   plugins.NewBase(plugins.Manifest{Name: "audit.archive", Version: "1.0", Identifier: "audit.archive"}),
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

// Postprocess archives the entity snapshot after a DELETE has already
// executed against storage.
func (a *AuditArchive) Postprocess(ctx context.Context, action model.Action, rc *model.Context) {
	if action != model.ActionDelete || rc.Object == nil {
		return
	}

	snapshot, err := json.Marshal(rc.Object.ToDict())
	if err != nil {
		rc.Errors.Add(model.ErrorTypeUnknown, rc.Object.RestName(), "Audit archive failed", err.Error(), "")
		return
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("%s%d/%02d/%s/%s.json", a.prefix, now.Year(), now.Month(), rc.Object.RestName(), rc.Object.Identifier())

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(snapshot),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		rc.Errors.Add(model.ErrorTypeUnknown, rc.Object.RestName(), "Audit archive failed", err.Error(), "")
	}
}

var (
	_ plugins.LogicPlugin     = (*AuditArchive)(nil)
	_ plugins.PostprocessHook = (*AuditArchive)(nil)
)
