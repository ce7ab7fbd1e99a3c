package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/ec-consistency/internal/domain/order"
	"github.com/example/ec-consistency/internal/domain/product"
	"github.com/example/ec-consistency/internal/remote"
)

// Error classifications carried in the "error" field of failure bodies.
const (
	CodeBadRequest          = "BadRequest"
	CodeEntityNotFound      = "EntityNotFound"
	CodeLookUpNotFound      = "LookUpNotFound"
	CodeConflict            = "Conflict"
	CodeServiceUnavailable  = "ServiceUnavailable"
	CodeBadGateway          = "BadGateway"
	CodeInternalServerError = "InternalServerError"
)

var errBadRequest = errors.New("bad request")

// SuccessResponse wraps every successful payload.
type SuccessResponse struct {
	Data    any    `json:"data"`
	Message string `json:"message"`
}

type FieldError struct {
	Property string `json:"property"`
	Message  string `json:"message"`
}

type ErrorResponse struct {
	Endpoint   string       `json:"endpoint"`
	Message    string       `json:"message"`
	Error      string       `json:"error"`
	StatusCode int          `json:"statusCode"`
	TraceID    string       `json:"traceId"`
	Errors     []FieldError `json:"errors"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondData(w http.ResponseWriter, status int, data any, message string) {
	respondJSON(w, status, SuccessResponse{Data: data, Message: message})
}

// respondError maps a service error to its status and classification and
// writes the failure body. Unexpected errors are logged and their text is
// not exposed.
func respondError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status, code := classify(err)
	body := ErrorResponse{
		Endpoint:   endpointURL(r),
		Message:    err.Error(),
		Error:      code,
		StatusCode: status,
		TraceID:    traceID(r),
		Errors:     []FieldError{},
	}

	var verr *order.ValidationError
	if errors.As(err, &verr) {
		keys := make([]string, 0, len(verr.Fields))
		for k := range verr.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			body.Errors = append(body.Errors, FieldError{Property: k, Message: verr.Fields[k]})
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("trace_id", body.TraceID),
			zap.Error(err))
	}
	if status == http.StatusInternalServerError {
		body.Message = "an unexpected error occurred"
	}
	respondJSON(w, status, body)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, order.ErrValidation),
		errors.Is(err, product.ErrInvalidName),
		errors.Is(err, product.ErrInvalidPrice),
		errors.Is(err, product.ErrInvalidStock):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, order.ErrReferenceNotFound):
		return http.StatusUnprocessableEntity, CodeLookUpNotFound
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, product.ErrProductNotFound):
		return http.StatusNotFound, CodeEntityNotFound
	case errors.Is(err, order.ErrConcurrentUpdate):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, order.ErrDependencyUnavailable):
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	case errors.Is(err, remote.ErrMalformedResponse):
		return http.StatusBadGateway, CodeBadGateway
	default:
		return http.StatusInternalServerError, CodeInternalServerError
	}
}

func endpointURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// traceID returns the id of the request span, or a random id when the
// request is not traced.
func traceID(r *http.Request) string {
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}
