package ingest

import (
	"context"
	"fmt"
	"net/url"
)

// RemoteSource is what a RemoteFetcher resolves from a media URL: the
// staged audio plus the catalog metadata the commit needs.
type RemoteSource struct {
	Source       RawAudioSource
	Title        string
	Author       string
	ThumbnailURL string
}

// RemoteFetcher turns a remote media URL into a staged local audio file
// and its metadata. Implementations stage downloads under generated
// unique names, never under user-controlled ones.
type RemoteFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*RemoteSource, error)
}

// validateMediaURL rejects anything that is not an absolute http(s) URL
// before any external call is made.
func validateMediaURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errInvalidURL(err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errInvalidURL(fmt.Errorf("unsupported scheme %q", parsed.Scheme))
	}
	if parsed.Host == "" {
		return errInvalidURL(fmt.Errorf("missing host"))
	}
	return nil
}
