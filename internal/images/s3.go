package images

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultPresignTTL = 15 * time.Minute

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

var _ presignAPI = (*s3.PresignClient)(nil)

// S3Presigner links object keys to time-limited GET URLs.
type S3Presigner struct {
	presign presignAPI
	bucket  string
	ttl     time.Duration
}

// NewS3PresignerFromConfig builds a presigner from an existing AWS config.
func NewS3PresignerFromConfig(cfg aws.Config, bucket string, ttl time.Duration) *S3Presigner {
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return &S3Presigner{
		presign: s3.NewPresignClient(s3.NewFromConfig(cfg)),
		bucket:  bucket,
		ttl:     ttl,
	}
}

// Link accepts "s3://bucket/key" or a bare key in the configured bucket.
func (p *S3Presigner) Link(ctx context.Context, ref string) (string, error) {
	bucket, key, err := p.split(ref)
	if err != nil {
		return "", err
	}
	out, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = p.ttl
	})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", ref, err)
	}
	return out.URL, nil
}

func (p *S3Presigner) split(ref string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	if rest, ok := strings.CutPrefix(ref, "s3://"); ok {
		bucket, key, found := strings.Cut(rest, "/")
		if !found || bucket == "" || key == "" {
			return "", "", fmt.Errorf("%w: malformed s3 reference %q", ErrUnresolvable, ref)
		}
		return bucket, key, nil
	}
	key := strings.TrimPrefix(ref, "/")
	if key == "" || strings.Contains(key, "..") {
		return "", "", fmt.Errorf("%w: invalid object key %q", ErrUnresolvable, ref)
	}
	return p.bucket, key, nil
}
