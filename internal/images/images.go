// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package images turns image files and data URLs into the raw base64 payloads
// the chat API expects in a message's images list.
package images

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
)

// MaxSize is the largest image accepted, in bytes.
const MaxSize = 20 << 20

// SupportedTypes lists the accepted MIME types.
var SupportedTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

var (
	ErrTooLarge    = fmt.Errorf("image exceeds %d MB", MaxSize>>20)
	ErrUnsupported = errors.New("unsupported image type")
	ErrNotDataURL  = errors.New("not a base64 data URL")
)

// Load reads an image file and returns its raw base64 encoding.
func Load(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxSize+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	return Encode(data)
}

// Encode checks that data is a supported image and returns it as base64.
func Encode(data []byte) (string, error) {
	if len(data) > MaxSize {
		return "", ErrTooLarge
	}
	if mime := DetectType(data); !slices.Contains(SupportedTypes, mime) {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, mime)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DetectType sniffs the MIME type of data.
func DetectType(data []byte) string {
	return http.DetectContentType(data)
}

// FromDataURL strips the "data:<mime>;base64," prefix from s and returns the
// payload after checking that it decodes to a supported image. A string with
// no prefix is treated as bare base64.
func FromDataURL(s string) (string, error) {
	s = strings.TrimSpace(s)
	payload := s
	if strings.HasPrefix(s, "data:") {
		header, rest, ok := strings.Cut(s, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return "", ErrNotDataURL
		}
		payload = rest
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotDataURL, err)
	}
	if _, err := Encode(data); err != nil {
		return "", err
	}
	return payload, nil
}
