package images

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestRouterLinksByScheme(t *testing.T) {
	presigned := LinkerFunc(func(ctx context.Context, ref string) (string, error) {
		return "https://signed.example/" + strings.TrimPrefix(ref, "s3://"), nil
	})
	r, err := NewRouter("https://cdn.example/photos", presigned)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	tests := []struct {
		ref  string
		want string
	}{
		{ref: "https://img.example/a.jpg", want: "https://img.example/a.jpg"},
		{ref: "a.jpg", want: "https://cdn.example/photos/a.jpg"},
		{ref: "/survey/b.jpg", want: "https://cdn.example/photos/survey/b.jpg"},
		{ref: "s3://bucket/c.jpg", want: "https://signed.example/bucket/c.jpg"},
	}
	for _, tt := range tests {
		got, err := r.Link(context.Background(), tt.ref)
		if err != nil {
			t.Fatalf("Link(%q): %v", tt.ref, err)
		}
		if got != tt.want {
			t.Fatalf("Link(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestRouterUnresolvable(t *testing.T) {
	r, err := NewRouter("", nil)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	for _, ref := range []string{"s3://bucket/a.jpg", " "} {
		if _, err := r.Link(context.Background(), ref); !errors.Is(err, ErrUnresolvable) {
			t.Fatalf("Link(%q): expected ErrUnresolvable, got %v", ref, err)
		}
	}
	if _, err := NewRouter("not a url", nil); err == nil {
		t.Fatalf("expected invalid base url error")
	}
}

func TestRouterPassesHandlesThroughWhenUnconfigured(t *testing.T) {
	r, err := NewRouter("", nil)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	for _, ref := range []string{"a.jpg", "surveys/42/b.jpg", "photo-7f3a"} {
		got, err := r.Link(context.Background(), ref)
		if err != nil {
			t.Fatalf("Link(%q): %v", ref, err)
		}
		if got != ref {
			t.Fatalf("Link(%q) = %q, want unchanged", ref, got)
		}
	}
}

type stubPresign struct {
	input *s3.GetObjectInput
	opts  s3.PresignOptions
}

func (s *stubPresign) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	s.input = params
	for _, fn := range optFns {
		fn(&s.opts)
	}
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/" + aws.ToString(params.Key), Method: "GET"}, nil
}

func TestS3PresignerUsesConfiguredBucketAndTTL(t *testing.T) {
	stub := &stubPresign{}
	p := &S3Presigner{presign: stub, bucket: "habitat-photos", ttl: 2 * time.Minute}

	got, err := p.Link(context.Background(), "/surveys/1.jpg")
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if got != "https://signed.example/surveys/1.jpg" {
		t.Fatalf("unexpected url %s", got)
	}
	if aws.ToString(stub.input.Bucket) != "habitat-photos" {
		t.Fatalf("expected configured bucket, got %q", aws.ToString(stub.input.Bucket))
	}
	if stub.opts.Expires != 2*time.Minute {
		t.Fatalf("expected 2m expiry, got %s", stub.opts.Expires)
	}
}

func TestS3PresignerSignsGet(t *testing.T) {
	cfg := aws.Config{
		Region:      "eu-central-1",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider("AKID", "SECRET", "")),
	}
	p := NewS3PresignerFromConfig(cfg, "habitat-photos", 5*time.Minute)

	signed, err := p.Link(context.Background(), "surveys/42/a.jpg")
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	parsed, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if !strings.Contains(parsed.Host+parsed.Path, "habitat-photos") || !strings.HasSuffix(parsed.Path, "/surveys/42/a.jpg") {
		t.Fatalf("unexpected presigned url %s", signed)
	}
	if parsed.Query().Get("X-Amz-Expires") != "300" {
		t.Fatalf("expected 300s expiry, got %q", parsed.Query().Get("X-Amz-Expires"))
	}

	other, err := p.Link(context.Background(), "s3://other-bucket/x.jpg")
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if !strings.Contains(other, "other-bucket") {
		t.Fatalf("expected explicit bucket in url %s", other)
	}

	if _, err := p.Link(context.Background(), "s3://bucket-only"); !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("expected ErrUnresolvable, got %v", err)
	}
	if _, err := p.Link(context.Background(), "../etc/passwd"); !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("expected ErrUnresolvable, got %v", err)
	}
}
