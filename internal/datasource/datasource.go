// Package datasource opens the bytes a run extracts from.
package datasource

import (
	"context"
	"io"
	"strings"

	"csvload/internal/datasource/file"
	"csvload/internal/datasource/httpds"
)

// Source yields a fresh reader over the input on every Open.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// For picks a source for location: an http(s) URL is downloaded with the
// default retrying client, "-" is standard input and anything else is a
// local path.
func For(location string) Source {
	lower := strings.ToLower(location)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return httpds.NewSource(location, httpds.NewClient(httpds.Config{}))
	case location == "-":
		return file.Stdin{}
	}
	return file.NewLocal(location)
}
