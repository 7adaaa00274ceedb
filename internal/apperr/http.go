package apperr

import (
	"errors"
	"net/http"
)

const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeNotFound    = "NOT_FOUND"
	CodeConflict    = "CONFLICT"
	CodeUnavailable = "PIPELINE_UNAVAILABLE"
	CodeProvider    = "PROVIDER_ERROR"
	CodeInternal    = "INTERNAL_ERROR"
)

// User-facing answers for the pipeline states a farmer can run into.
const (
	MsgEmptyQuestion = "Please enter a question."
	MsgUnavailable   = "Model not loaded."
	MsgProvider      = "Couldn't generate an answer right now. Please try again."
	MsgInternal      = "Something went wrong. Please try again."
)

type Response struct {
	Status  int
	Code    string
	Message string
}

// HTTP maps err to the response the API returns. Provider and internal
// details are hidden unless dev is set.
func HTTP(err error, dev bool) Response {
	var e *Error
	if !errors.As(err, &e) {
		return Response{Status: http.StatusInternalServerError, Code: CodeInternal, Message: detail(MsgInternal, err, dev)}
	}

	switch e.Kind {
	case KindValidation:
		return Response{Status: http.StatusBadRequest, Code: CodeValidation, Message: e.userMessage()}
	case KindNotFound:
		return Response{Status: http.StatusNotFound, Code: CodeNotFound, Message: e.userMessage()}
	case KindConflict:
		return Response{Status: http.StatusConflict, Code: CodeConflict, Message: e.userMessage()}
	case KindUnavailable, KindNoDocuments, KindNoContent, KindConfiguration, KindDimensionMismatch:
		return Response{Status: http.StatusServiceUnavailable, Code: CodeUnavailable, Message: detail(MsgUnavailable, err, dev)}
	case KindEmbeddingProvider, KindGenerationProvider:
		return Response{Status: http.StatusBadGateway, Code: CodeProvider, Message: detail(MsgProvider, err, dev)}
	default:
		return Response{Status: http.StatusInternalServerError, Code: CodeInternal, Message: detail(MsgInternal, err, dev)}
	}
}

func (e *Error) userMessage() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}

func detail(msg string, err error, dev bool) string {
	if dev && err != nil {
		return msg + " (" + err.Error() + ")"
	}
	return msg
}
