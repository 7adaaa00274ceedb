package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"bhoomi/internal/text"
)

// PDF extracts the plain text of every page as its own document.
type PDF struct{}

func (PDF) Extract(ctx context.Context, path string) (docs []text.Document, err error) {
	// The pdf reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not fail the document.
			continue
		}
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		docs = append(docs, text.Document{Source: path, Page: i, Text: content})
	}
	return docs, nil
}
