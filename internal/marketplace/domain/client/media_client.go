package client

import (
	"context"
	"io"
)

// MediaUpload is one binary object headed for external storage.
type MediaUpload struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// MediaClient stores binary media externally and returns a stable URL. The
// core never persists binary content, only the returned URLs.
type MediaClient interface {
	Upload(ctx context.Context, upload MediaUpload) (string, error)
}
