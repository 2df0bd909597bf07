// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds HTTP plumbing shared by the service handlers:
// bounded, decompressing request body reads and classification of the
// errors produced when a streaming client goes away.
package netutil

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// MaxRequestBody bounds the decompressed size of an ingestion request.
// A full 1000-event batch with verbose tool output stays well under it.
const MaxRequestBody int64 = 32 << 20

// ErrBodyTooLarge is returned when a body exceeds its limit after
// decompression.
var ErrBodyTooLarge = errors.New("request body too large")

// UnsupportedEncodingError names a Content-Encoding the server does
// not understand.
type UnsupportedEncodingError struct {
	Encoding string
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("unsupported Content-Encoding %q", e.Encoding)
}

// ReadRequestBody reads the request body, undoing any Content-Encoding
// (gzip, zstd, lz4 frame, or identity), and fails with ErrBodyTooLarge
// when the decoded body exceeds limit. A limit of zero or less means
// MaxRequestBody.
func ReadRequestBody(r *http.Request, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = MaxRequestBody
	}
	if r.Body == nil {
		return nil, nil
	}

	reader, closeReader, err := decodingReader(r.Body, r.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	defer closeReader()

	data, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

func decodingReader(body io.Reader, contentEncoding string) (io.Reader, func(), error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))
	switch encoding {
	case "", "identity":
		return body, func() {}, nil
	case "gzip", "x-gzip":
		reader, err := gzip.NewReader(body)
		if err != nil {
			return nil, nil, fmt.Errorf("opening gzip body: %w", err)
		}
		return reader, func() { reader.Close() }, nil
	case "zstd":
		reader, err := zstd.NewReader(body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, fmt.Errorf("opening zstd body: %w", err)
		}
		return reader, reader.Close, nil
	case "lz4":
		return lz4.NewReader(body), func() {}, nil
	}
	return nil, nil, &UnsupportedEncodingError{Encoding: contentEncoding}
}
