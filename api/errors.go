package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/nanzhong/marketdata/degrade"
	"github.com/nanzhong/marketdata/logger"
	"github.com/nanzhong/marketdata/marketdata"
	"github.com/nanzhong/marketdata/usage"
)

const (
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	codeNotFound         = "NOT_FOUND"

	unexpectedMessage = "An unexpected error occurred"
	alertTitle        = "Market Data API Error"
)

type errorDetail struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	RetryAfter int         `json:"retryAfter,omitempty"`
	RequestID  string      `json:"requestId,omitempty"`
}

type errorResponse struct {
	Success bool         `json:"success"`
	Error   errorDetail  `json:"error"`
	Usage   *usage.Usage `json:"usage,omitempty"`
}

// httpError is a transport level failure that never reached the pipeline.
type httpError struct {
	err        error
	code       string
	statusCode int
}

func newHTTPError(err error, code string, status int) error {
	return &httpError{err: err, code: code, statusCode: status}
}

func newHTTPErrorWithMessage(err error, message, code string, status int) error {
	return &httpError{err: fmt.Errorf("%s: %w", message, err), code: code, statusCode: status}
}

func (e *httpError) Error() string {
	return fmt.Sprintf("%s: %d", e.err.Error(), e.statusCode)
}

func (e *httpError) Unwrap() error {
	return e.err
}

func (h *Handler) respondWithErr(w http.ResponseWriter, r *http.Request, err error) {
	log := h.log.WithFields(logger.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	})

	var (
		apiErr *marketdata.Error
		he     *httpError
	)
	switch {
	case errors.As(err, &apiErr):
		log.WithFields(logger.Fields{"code": apiErr.Code, "status": apiErr.Status}).Info(apiErr.Message)
		for k, v := range apiErr.Headers {
			w.Header().Set(k, v)
		}
		if apiErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(apiErr.RetryAfter))
		}
		h.writeJSON(w, apiErr.Status, &errorResponse{
			Error: errorDetail{
				Code:       apiErr.Code,
				Message:    apiErr.Message,
				Details:    apiErr.Details,
				RetryAfter: apiErr.RetryAfter,
			},
			Usage: apiErr.Usage,
		})
	case errors.As(err, &he):
		log.WithError(err).Info("responding with error")
		h.writeJSON(w, he.statusCode, &errorResponse{
			Error: errorDetail{Code: he.code, Message: he.err.Error()},
		})
	default:
		requestID := uuid.NewString()
		log.WithError(err).WithFields(logger.Fields{"request_id": requestID}).Error("unexpected error")
		h.alert(r, requestID, err)
		h.writeJSON(w, http.StatusInternalServerError, &errorResponse{
			Error: errorDetail{
				Code:      marketdata.CodeServerError,
				Message:   unexpectedMessage,
				RequestID: requestID,
			},
		})
	}
}

func (h *Handler) alert(r *http.Request, requestID string, err error) {
	if h.notifier == nil {
		return
	}
	degrade.Do(h.log, "send alert", func() error {
		return h.notifier.Notify(r.Context(), alertTitle, map[string]string{
			"requestId": requestID,
			"method":    r.Method,
			"path":      r.URL.Path,
			"error":     err.Error(),
		})
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.WithError(err).Warn("writing response body")
	}
}
