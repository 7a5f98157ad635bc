// Package content stores the raw bytes of uploads and export artifacts.
//
// The pipeline only ever holds a models.ContentRef: a URI plus the SHA-256 of
// the bytes, which is re-checked whenever the content is read back.
package content

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/Lllllllleong/requirementflow/internal/models"
)

var (
	// ErrNotFound indicates no object exists at the referenced URI.
	ErrNotFound = errors.New("content not found")

	// ErrHashMismatch indicates the stored bytes no longer match their ref.
	ErrHashMismatch = errors.New("content hash mismatch")

	// ErrTooLarge indicates the content exceeds the configured size limit.
	ErrTooLarge = errors.New("content too large")
)

// Store is the raw byte storage collaborator.
type Store interface {
	// Put writes data under name. Writing an existing name is not an error;
	// the returned ref describes the bytes actually stored.
	Put(ctx context.Context, name string, data []byte, contentType string) (models.ContentRef, error)
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ReadVerified reads the referenced bytes and checks them against ref.SHA256.
// A maxBytes of zero means no limit.
func ReadVerified(ctx context.Context, s Store, ref models.ContentRef, maxBytes int64) ([]byte, error) {
	rc, err := s.Open(ctx, ref.URI)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if maxBytes > 0 {
		r = io.LimitReader(rc, maxBytes+1)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ref.URI, err)
	}
	if maxBytes > 0 && int64(buf.Len()) > maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, ref.URI, maxBytes)
	}
	data := buf.Bytes()
	if got := Hash(data); got != ref.SHA256 {
		return nil, fmt.Errorf("%w: %s has %s, expected %s", ErrHashMismatch, ref.URI, got, ref.SHA256)
	}
	return data, nil
}
