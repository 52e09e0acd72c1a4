package images

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrUnresolvable = errors.New("image reference cannot be resolved")

// Linker turns a submitted image reference into a URL the upstream model can fetch.
type Linker interface {
	Link(ctx context.Context, ref string) (string, error)
}

// LinkerFunc adapts a function to Linker.
type LinkerFunc func(ctx context.Context, ref string) (string, error)

func (f LinkerFunc) Link(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// Router links absolute http(s) and data URLs as-is, s3:// references through
// Presigner and relative references against BaseURL (or Presigner when no
// base URL is configured). With neither configured, relative references are
// opaque content handles and pass through unchanged.
type Router struct {
	BaseURL   *url.URL
	Presigner Linker
}

// NewRouter parses baseURL; an empty baseURL disables relative linking by base.
func NewRouter(baseURL string, presigner Linker) (*Router, error) {
	r := &Router{Presigner: presigner}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return r, nil
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid IMAGE_BASE_URL %q", baseURL)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	r.BaseURL = parsed
	return r, nil
}

func (r *Router) Link(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrUnresolvable)
	}
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "data:image/"):
		return ref, nil
	case strings.HasPrefix(lower, "s3://"):
		if r.Presigner == nil {
			return "", fmt.Errorf("%w: %s (no S3 bucket configured)", ErrUnresolvable, ref)
		}
		return r.Presigner.Link(ctx, ref)
	}

	if r.BaseURL != nil {
		rel, err := url.Parse(strings.TrimPrefix(ref, "/"))
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrUnresolvable, ref, err)
		}
		return r.BaseURL.ResolveReference(rel).String(), nil
	}
	if r.Presigner != nil {
		return r.Presigner.Link(ctx, ref)
	}
	return ref, nil
}
