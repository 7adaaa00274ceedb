// Package index holds embedded chunks in memory and answers exact nearest
// neighbour queries over them.
package index

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"bhoomi/internal/apperr"
	"bhoomi/internal/text"
)

type Metric string

const (
	Cosine Metric = "cosine"
	L2     Metric = "l2"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", Cosine:
		return Cosine, nil
	case L2:
		return L2, nil
	default:
		return "", apperr.Configuration("index.ParseMetric", fmt.Errorf("unknown metric %q", s))
	}
}

type Record struct {
	ID     string
	Chunk  text.Chunk
	Vector []float32
}

// Match is a search hit. Score is a similarity: higher is closer.
type Match struct {
	Record Record
	Score  float64
}

var recordNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("bhoomi/index/record"))

// RecordID derives a stable id from the chunk's position and content, so the
// same chunk always maps to the same record.
func RecordID(c text.Chunk) string {
	key := fmt.Sprintf("%s\x00%d\x00%d\x00%s", c.Source, c.Page, c.Offset, c.Text)
	return uuid.NewSHA1(recordNamespace, []byte(key)).String()
}

type Index struct {
	mu      sync.RWMutex
	dim     int
	metric  Metric
	records []Record
	ids     map[string]struct{}
}

func New(dim int, metric Metric) (*Index, error) {
	if dim <= 0 {
		return nil, apperr.Configuration("index.New", fmt.Errorf("dimension must be positive, got %d", dim))
	}
	if metric == "" {
		metric = Cosine
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	return &Index{dim: dim, metric: metric, ids: make(map[string]struct{})}, nil
}

func (x *Index) Dimension() int { return x.dim }
func (x *Index) Metric() Metric { return x.metric }

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

// Records returns the records in insertion order.
func (x *Index) Records() []Record {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Record, len(x.records))
	copy(out, x.records)
	return out
}

// InsertBatch adds records, assigning RecordID to those without an id.
// Records whose id is already present are skipped. Either every record is
// accepted or none is.
func (x *Index) InsertBatch(records []Record) (int, error) {
	for _, r := range records {
		if len(r.Vector) != x.dim {
			return 0, apperr.DimensionMismatch(x.dim, len(r.Vector))
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	added := 0
	for _, r := range records {
		if r.ID == "" {
			r.ID = RecordID(r.Chunk)
		}
		if _, ok := x.ids[r.ID]; ok {
			continue
		}
		x.ids[r.ID] = struct{}{}
		x.records = append(x.records, r)
		added++
	}
	return added, nil
}

// Merge adds the records of other that x does not hold yet, keeping their
// relative order.
func (x *Index) Merge(other *Index) error {
	if other == nil || other == x {
		return nil
	}
	if other.dim != x.dim {
		return apperr.DimensionMismatch(x.dim, other.dim)
	}
	if other.metric != x.metric {
		return apperr.Configuration("index.Merge", fmt.Errorf("metric %s cannot merge %s", x.metric, other.metric))
	}
	_, err := x.InsertBatch(other.Records())
	return err
}

// Search returns the k records closest to vector, best first. Equal scores
// keep insertion order.
func (x *Index) Search(vector []float32, k int) ([]Match, error) {
	if len(vector) != x.dim {
		return nil, apperr.DimensionMismatch(x.dim, len(vector))
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if k <= 0 || len(x.records) == 0 {
		return []Match{}, nil
	}

	matches := make([]Match, len(x.records))
	for i, r := range x.records {
		matches[i] = Match{Record: r, Score: x.score(vector, r.Vector)}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

func (x *Index) score(a, b []float32) float64 {
	if x.metric == L2 {
		return 1 / (1 + l2Distance(a, b))
	}
	return cosineSimilarity(a, b)
}
