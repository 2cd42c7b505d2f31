// Package media turns stored media references into something the chat
// provider can fetch. Objects kept in S3-compatible storage are served
// through short-lived presigned URLs; public URLs and provider file ids pass
// through untouched.
package media

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/broadcast-engine/internal/config"
)

const s3Scheme = "s3://"

// Resolver maps a stored media reference to a fetchable one.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Passthrough returns references unchanged. Used when object storage is
// disabled.
type Passthrough struct{}

func (Passthrough) Resolve(_ context.Context, ref string) (string, error) { return ref, nil }

type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Resolver presigns s3://bucket/key references.
type S3Resolver struct {
	presign presigner
	ttl     time.Duration
}

// NewS3Resolver builds a resolver from the media settings. Static keys and a
// custom endpoint are optional; without them the default AWS credential
// chain and endpoint are used.
func NewS3Resolver(ctx context.Context, cfg config.MediaConfig) (*S3Resolver, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Resolver{presign: s3.NewPresignClient(client), ttl: cfg.PresignTTL()}, nil
}

// Resolve presigns s3:// references and returns anything else as is.
func (r *S3Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	bucket, key, ok := ParseS3Ref(ref)
	if !ok {
		return ref, nil
	}
	req, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", ref, err)
	}
	return req.URL, nil
}

// ParseS3Ref splits s3://bucket/key. ok is false for any other reference or
// a reference missing its key.
func ParseS3Ref(ref string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(ref, s3Scheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(ref, s3Scheme)
	i := strings.IndexByte(rest, '/')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
