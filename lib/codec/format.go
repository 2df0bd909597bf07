// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/json"
	"fmt"
	"mime"
	"strings"
)

// Format is a body encoding.
type Format int

const (
	JSON Format = iota
	CBOR
)

// Media types for each Format.
const (
	MediaTypeJSON = "application/json"
	MediaTypeCBOR = "application/cbor"
)

// MediaType returns the Content-Type value for f.
func (f Format) MediaType() string {
	if f == CBOR {
		return MediaTypeCBOR
	}
	return MediaTypeJSON
}

func (f Format) String() string {
	if f == CBOR {
		return "cbor"
	}
	return "json"
}

// FromContentType maps a request Content-Type to a Format. An empty
// header means JSON; anything other than JSON or CBOR is an error.
func FromContentType(header string) (Format, error) {
	if header == "" {
		return JSON, nil
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return JSON, fmt.Errorf("codec: invalid Content-Type %q: %w", header, err)
	}
	switch mediaType {
	case MediaTypeJSON, "text/json":
		return JSON, nil
	case MediaTypeCBOR:
		return CBOR, nil
	}
	return JSON, fmt.Errorf("codec: unsupported Content-Type %q", mediaType)
}

// FromAccept picks the response Format for an Accept header. CBOR is
// chosen only when the client lists it before any JSON type; every
// other case, including */*, gets JSON.
func FromAccept(header string) Format {
	for _, part := range strings.Split(header, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mediaType {
		case MediaTypeCBOR:
			return CBOR
		case MediaTypeJSON, "*/*", "application/*":
			return JSON
		}
	}
	return JSON
}

// Decode unmarshals data in format f into v.
func Decode(f Format, data []byte, v any) error {
	if f == CBOR {
		return Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

// Encode marshals v in format f.
func Encode(f Format, v any) ([]byte, error) {
	if f == CBOR {
		return Marshal(v)
	}
	return json.Marshal(v)
}
