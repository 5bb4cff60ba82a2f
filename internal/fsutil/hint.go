// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package fsutil guards every filesystem path handed to the pipeline: webhook
// hints are scrubbed and confined beneath the raw root before any subprocess
// or file operation sees them.
package fsutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrEmptyHint     = errors.New("hint is empty")
	ErrHintRejected  = errors.New("hint rejected")
	ErrHintTraversal = errors.New("hint attempts path traversal")
)

// Shell metacharacters and expansion markers have no business in a directory
// basename coming off the wire.
var dangerousHint = regexp.MustCompile("[~$`;]")

// driveLetter matches Windows-style absolute prefixes like "C:".
var driveLetter = regexp.MustCompile(`^[a-zA-Z]:`)

// ValidateHint checks a webhook-supplied directory basename before it is
// joined with the raw root. The hint must be a single path segment: no
// separators, no traversal, no control bytes, no shell metacharacters.
func ValidateHint(hint string) error {
	if strings.TrimSpace(hint) == "" {
		return ErrEmptyHint
	}
	for _, r := range hint {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: control character", ErrHintRejected)
		}
	}
	if strings.ContainsAny(hint, "/\\") {
		return fmt.Errorf("%w: path separator", ErrHintRejected)
	}
	if driveLetter.MatchString(hint) {
		return fmt.Errorf("%w: drive letter", ErrHintRejected)
	}
	if hint == ".." || strings.Contains(hint, "..") && isTraversalSegment(hint) {
		return fmt.Errorf("%w: %q", ErrHintTraversal, hint)
	}
	if dangerousHint.MatchString(hint) {
		return fmt.Errorf("%w: shell metacharacter", ErrHintRejected)
	}
	return nil
}

// isTraversalSegment reports whether s, taken as path segments, contains a
// literal ".." segment. A title like "2..Fast" is fine.
func isTraversalSegment(s string) bool {
	for _, seg := range strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return s == ".."
}

var (
	// controlChars are dropped outright; reservedChars (the Windows-reserved
	// set) become "_" so adjacent words stay readable.
	controlChars  = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	reservedChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	collapseSpace = regexp.MustCompile(`\s+`)
)

// CleanTitle turns a display title into a filesystem-safe path component:
// control characters stripped, reserved characters replaced with "_",
// whitespace collapsed, trimmed to 240 characters, never empty.
func CleanTitle(title string) string {
	cleaned := controlChars.ReplaceAllString(title, "")
	cleaned = reservedChars.ReplaceAllString(cleaned, "_")
	cleaned = collapseSpace.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return "untitled"
	}
	if len(cleaned) > 240 {
		cleaned = strings.TrimSpace(cleaned[:240])
	}
	return cleaned
}
