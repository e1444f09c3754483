package upstream

import (
	"context"
	"fmt"
	"net/url"
)

// SnapshotSource supplies a complete upstream dataset in one document.
type SnapshotSource interface {
	// FetchAll returns the raw full dataset.
	FetchAll(ctx context.Context) ([]byte, error)
	// String returns a description of the source.
	String() string
}

// HTTPSource reads a full dataset from an HTTP endpoint.
type HTTPSource struct {
	client *Client
	url    string
}

// NewHTTPSource creates a snapshot source for srcURL.
func NewHTTPSource(srcURL string, client *Client) (*HTTPSource, error) {
	u, err := url.Parse(srcURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url must have http or https scheme: %s", srcURL)
	}
	if client == nil {
		return nil, fmt.Errorf("upstream client cannot be nil")
	}
	return &HTTPSource{client: client, url: u.String()}, nil
}

// FetchAll gets the whole dataset.
func (s *HTTPSource) FetchAll(ctx context.Context) ([]byte, error) {
	return s.client.Get(ctx, s.url, "")
}

// FetchScoped gets the part of the dataset under pathSuffix, such as
// "byTranscript/ENST00000269305".
func (s *HTTPSource) FetchScoped(ctx context.Context, pathSuffix string) ([]byte, error) {
	return s.client.Get(ctx, s.url, pathSuffix)
}

func (s *HTTPSource) String() string {
	return s.url
}
