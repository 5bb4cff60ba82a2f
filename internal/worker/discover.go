// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var audioFileExtensions = map[string]bool{
	".flac": true,
	".mp3":  true,
	".wav":  true,
	".ogg":  true,
}

// discoverVideos lists the .mkv files of a rip, largest first so the main
// feature is transcoded before the extras. A plain file source is its own
// single-entry list.
func discoverVideos(source string) ([]string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if strings.EqualFold(filepath.Ext(source), ".mkv") {
			return []string{source}, nil
		}
		return nil, nil
	}

	entries, err := os.ReadDir(source)
	if err != nil {
		return nil, err
	}
	type sized struct {
		path string
		size int64
	}
	var files []sized
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".mkv") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, sized{filepath.Join(source, e.Name()), fi.Size()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].size > files[j].size })

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// discoverAudios lists standalone audio files sorted by name, preserving
// track order for disc rips.
func discoverAudios(source string) ([]string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if audioFileExtensions[strings.ToLower(filepath.Ext(source))] {
			return []string{source}, nil
		}
		return nil, nil
	}

	entries, err := os.ReadDir(source)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !audioFileExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		out = append(out, filepath.Join(source, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
