package httpds

import (
	"context"
	"io"
)

// Source downloads one URL on each Open.
type Source struct {
	url    string
	client *Client
}

// NewSource returns a source for url. A nil client gets the defaults.
func NewSource(url string, client *Client) *Source {
	if client == nil {
		client = NewClient(Config{})
	}
	return &Source{url: url, client: client}
}

func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
