// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes a stored conversation out as Markdown or JSON.
//
// # Supported Formats
//
//   - Markdown: human-readable, with optional YAML frontmatter
//   - JSON: the conversation info and messages exactly as stored
//
// # Usage
//
//	exporter, err := export.ForFormat("markdown", nil)
//	if err != nil {
//	    return err
//	}
//	path, err := export.ExportToFile(conv, exporter, &export.Options{OutputDir: "."})
package export
