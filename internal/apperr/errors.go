// Package apperr defines the error kinds shared by the ingestion and answer
// pipelines and the single translation of those kinds to HTTP responses.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindConfiguration
	KindNoDocuments
	KindNoContent
	KindExtraction
	KindEmbeddingProvider
	KindGenerationProvider
	KindDimensionMismatch
	KindUnavailable
	KindValidation
	KindNotFound
	KindConflict
)

var kindNames = map[Kind]string{
	KindInternal:           "internal",
	KindConfiguration:      "configuration",
	KindNoDocuments:        "no documents found",
	KindNoContent:          "no content extracted",
	KindExtraction:         "extraction failure",
	KindEmbeddingProvider:  "embedding provider error",
	KindGenerationProvider: "generation provider error",
	KindDimensionMismatch:  "dimension mismatch",
	KindUnavailable:        "pipeline unavailable",
	KindValidation:         "validation",
	KindNotFound:           "not found",
	KindConflict:           "conflict",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is checks. Any *Error of the same kind matches.
var (
	ErrConfiguration      = &Error{Kind: KindConfiguration}
	ErrNoDocumentsFound   = &Error{Kind: KindNoDocuments}
	ErrNoContentExtracted = &Error{Kind: KindNoContent}
	ErrExtraction         = &Error{Kind: KindExtraction}
	ErrEmbeddingProvider  = &Error{Kind: KindEmbeddingProvider}
	ErrGenerationProvider = &Error{Kind: KindGenerationProvider}
	ErrDimensionMismatch  = &Error{Kind: KindDimensionMismatch}
	ErrUnavailable        = &Error{Kind: KindUnavailable}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrConflict           = &Error{Kind: KindConflict}
)

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Msg != "" {
		msg = e.Msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

// E builds an *Error of the given kind. The message is optional; when empty
// the kind name is used.
func E(kind Kind, op string, err error, msg ...string) *Error {
	e := &Error{Kind: kind, Op: op, Err: err}
	if len(msg) > 0 {
		e.Msg = msg[0]
	}
	return e
}

func Configuration(op string, err error) error {
	return E(KindConfiguration, op, err)
}

func NoDocumentsFound(root string) error {
	return E(KindNoDocuments, "ingest", nil, fmt.Sprintf("no documents found under %s", root))
}

func NoContentExtracted(root string) error {
	return E(KindNoContent, "ingest", nil, fmt.Sprintf("no content extracted from documents under %s", root))
}

func Extraction(path string, err error) error {
	return E(KindExtraction, "extract "+path, err)
}

func EmbeddingProvider(op string, err error) error {
	return E(KindEmbeddingProvider, op, err)
}

func GenerationProvider(op string, err error) error {
	return E(KindGenerationProvider, op, err)
}

func DimensionMismatch(want, got int) error {
	return E(KindDimensionMismatch, "index", nil, fmt.Sprintf("dimension mismatch: want %d, got %d", want, got))
}

func Validation(msg string) error {
	return E(KindValidation, "", nil, msg)
}

func NotFound(msg string) error {
	return E(KindNotFound, "", nil, msg)
}

func Conflict(msg string) error {
	return E(KindConflict, "", nil, msg)
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
