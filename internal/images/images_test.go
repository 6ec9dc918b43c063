// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package images

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngHeader is enough of a PNG for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "dot.png")
	require.NoError(t, os.WriteFile(png, pngHeader, 0600))

	got, err := Load(png)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngHeader), got)

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("just text"), 0600))
	_, err = Load(txt)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Load(filepath.Join(dir, "missing.png"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEncode_TooLarge(t *testing.T) {
	big := make([]byte, MaxSize+1)
	copy(big, pngHeader)
	_, err := Encode(big)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFromDataURL(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString(pngHeader)

	got, err := FromDataURL("data:image/png;base64," + raw)
	require.NoError(t, err)
	assert.Equal(t, raw, got, "prefix stripped")

	got, err = FromDataURL("  " + raw + "\n")
	require.NoError(t, err)
	assert.Equal(t, raw, got, "bare base64 accepted")

	_, err = FromDataURL("data:image/png," + raw)
	assert.ErrorIs(t, err, ErrNotDataURL)

	_, err = FromDataURL("data:image/png;base64,%%%")
	assert.ErrorIs(t, err, ErrNotDataURL)

	_, err = FromDataURL("data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("hello")))
	assert.ErrorIs(t, err, ErrUnsupported)
}
