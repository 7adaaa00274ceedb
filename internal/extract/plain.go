package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"bhoomi/internal/text"
)

// Plain reads UTF-8 text and markdown files as a single document.
type Plain struct{}

func (Plain) Extract(ctx context.Context, path string) ([]text.Document, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from walking the configured data root
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%s is not valid UTF-8", filepath.Base(path))
	}
	return []text.Document{{Source: path, Text: string(data)}}, nil
}
