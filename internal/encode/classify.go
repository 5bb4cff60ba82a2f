// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package encode

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ManuGH/ripflow/internal/jobs"
)

var audioExtensions = map[string]bool{
	".flac": true,
	".mp3":  true,
	".wav":  true,
	".ogg":  true,
}

var episodeToken = regexp.MustCompile(`(?i)S\d{1,2}E\d{1,3}`)

// Classify decides the completed subtree for a source directory. Any
// standalone audio file makes it AUDIO; a season/episode token in the
// directory name or the hint makes it TV; everything else is a movie.
func Classify(dir, hint string) (jobs.Classification, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if audioExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			return jobs.ClassAudio, nil
		}
	}
	if episodeToken.MatchString(filepath.Base(dir)) || episodeToken.MatchString(hint) {
		return jobs.ClassTV, nil
	}
	return jobs.ClassMovie, nil
}
