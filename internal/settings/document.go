package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var ErrNoVideoPaths = errors.New("settings document has no video_paths")

// document carries the single field trackq reads; the tracker owns the rest.
type document struct {
	VideoPaths []string `toml:"video_paths"`
}

// VideoPaths returns the ordered video_paths of a settings document.
func VideoPaths(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	doc, err := parseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	out := make([]string, 0, len(doc.VideoPaths))
	for _, p := range doc.VideoPaths {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoVideoPaths, path)
	}
	return out, nil
}

// parseDocument reads the document as FixPaths would leave it, so unescaped
// Windows separators neither fail the parse nor turn into escape sequences
// such as \t. The raw text is the fallback when the corrected one does not
// parse.
func parseDocument(data []byte) (document, error) {
	var doc document
	if bytes.ContainsRune(data, '\\') {
		if err := toml.Unmarshal([]byte(FixText(string(data))), &doc); err == nil {
			return doc, nil
		}
		doc = document{}
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return document{}, err
	}
	return doc, nil
}

// VideoName is the basename of the first video path without its extension.
func VideoName(path string) (string, error) {
	paths, err := VideoPaths(path)
	if err != nil {
		return "", err
	}
	return Stem(paths[0]), nil
}

// Stem strips directory and extension, accepting either path separator.
func Stem(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	base := filepath.Base(filepath.FromSlash(p))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
