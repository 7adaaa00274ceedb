package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bhoomi/internal/apperr"
	"bhoomi/internal/testutils"
	"bhoomi/internal/text"
)

func TestDefault(t *testing.T) {
	r, err := Default([]string{".PDF", "txt", ".md"})
	require.NoError(t, err)
	assert.Equal(t, []string{".md", ".pdf", ".txt"}, r.Extensions())
	assert.True(t, r.Supports("guide/Rice.PDF"))
	assert.False(t, r.Supports("photo.jpg"))

	_, err = Default([]string{".docx"})
	assert.True(t, errors.Is(err, apperr.ErrConfiguration))
}

func TestRegistry_ExtractPlain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rice.txt")
	require.NoError(t, os.WriteFile(path, []byte("Rice needs 20-25°C for germination."), 0o600))

	r, _ := Default([]string{".txt"})
	docs, err := r.Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, path, docs[0].Source)
	assert.Equal(t, "Rice needs 20-25°C for germination.", docs[0].Text)
}

func TestRegistry_ExtractPDF(t *testing.T) {
	dir := t.TempDir()
	r, _ := Default([]string{".pdf"})

	tests := []struct {
		name  string
		pages []string
		want  []int
		texts []string
	}{
		{
			name:  "Single Page",
			pages: []string{"Rice needs 20-25°C for germination."},
			want:  []int{1},
			texts: []string{"Rice needs 20-25°C for germination."},
		},
		{
			name:  "Blank Pages Are Skipped",
			pages: []string{"Wheat is sown in November.", "", "Neem oil (cold pressed) repels aphids."},
			want:  []int{1, 3},
			texts: []string{"Wheat is sown in November.", "Neem oil (cold pressed) repels aphids."},
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("guide%d.pdf", i))
			testutils.WritePDF(t, path, tt.pages...)

			docs, err := r.Extract(context.Background(), path)
			require.NoError(t, err)
			require.Len(t, docs, len(tt.want))
			for j, doc := range docs {
				assert.Equal(t, text.Document{Source: path, Page: tt.want[j], Text: tt.texts[j]}, doc)
			}
		})
	}
}

func TestRegistry_ExtractFailures(t *testing.T) {
	dir := t.TempDir()
	r, _ := Default([]string{".txt", ".pdf"})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := r.Extract(context.Background(), filepath.Join(dir, "a.docx"))
		assert.True(t, errors.Is(err, apperr.ErrExtraction))
	})

	t.Run("Missing File", func(t *testing.T) {
		_, err := r.Extract(context.Background(), filepath.Join(dir, "missing.txt"))
		assert.True(t, errors.Is(err, apperr.ErrExtraction))
	})

	t.Run("Invalid UTF8", func(t *testing.T) {
		path := filepath.Join(dir, "bin.txt")
		require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0xfd}, 0o600))
		_, err := r.Extract(context.Background(), path)
		assert.True(t, errors.Is(err, apperr.ErrExtraction))
	})

	t.Run("Corrupt PDF", func(t *testing.T) {
		path := filepath.Join(dir, "broken.pdf")
		require.NoError(t, os.WriteFile(path, []byte("this is not a pdf"), 0o600))
		_, err := r.Extract(context.Background(), path)
		assert.True(t, errors.Is(err, apperr.ErrExtraction))
	})
}
