// Package blob abstracts the durable object store the pipeline reads
// from and writes to. Keys are slash-separated paths within a bucket.
package blob

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
)

var ErrNotFound = errors.New("object not found")

type PutOptions struct {
	// Compress the payload with zlib before storing.
	Compress bool

	ContentType string
}

// A thing capable of storing and retrieving objects by key.
type Store interface {
	// Get returns the raw bytes stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	Put(ctx context.Context, key string, data []byte, options PutOptions) error

	// List returns all keys under the given prefix. Pagination in
	// the underlying store is handled internally.
	List(ctx context.Context, prefix string) ([]string, error)

	// Invalidate clears edge caches for the given key paths. Only
	// meaningful for the dashboard-facing bucket; other stores
	// treat it as a no-op.
	Invalidate(ctx context.Context, paths []string) error
}

// Compress deflates data with zlib, matching what Put does when
// options.Compress is set.
func Compress(data []byte) []byte {
	buf := &bytes.Buffer{}
	w := zlib.NewWriter(buf)
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

// Decompress inflates a zlib or gzip payload, detecting which by the
// header. Payloads that are neither are returned unchanged.
func Decompress(data []byte) ([]byte, error) {
	var r io.Reader
	switch {
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	case len(data) >= 2 && data[0] == 0x78:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		defer zr.Close()
		r = zr
	default:
		return data, nil
	}

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return out, nil
}
