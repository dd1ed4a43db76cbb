package marketdata

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/nanzhong/marketdata/usage"
)

const (
	CodeInvalidParams       = "INVALID_PARAMS"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeBudgetLimitExceeded = "BUDGET_LIMIT_EXCEEDED"
	CodeServerError         = "INTERNAL_SERVER_ERROR"

	// RetryAfterSeconds is advertised to callers that hit their quota.
	RetryAfterSeconds = 60
)

// Error is a request failure that maps directly onto an HTTP response.
// Upstream and storage problems never surface as an Error.
type Error struct {
	Status     int
	Code       string
	Message    string
	Details    interface{}
	Headers    map[string]string
	RetryAfter int
	Usage      *usage.Usage
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Code, e.Message, e.Status)
}

func invalidParams(errs []string) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    CodeInvalidParams,
		Message: strings.Join(errs, ", "),
		Details: errs,
	}
}

func rateLimited(u usage.Usage) *Error {
	return &Error{
		Status:     http.StatusTooManyRequests,
		Code:       CodeRateLimitExceeded,
		Message:    "API rate limit exceeded. Please try again later.",
		RetryAfter: RetryAfterSeconds,
		Usage:      &u,
	}
}

func budgetBlocked(warning string) *Error {
	return &Error{
		Status:  http.StatusForbidden,
		Code:    CodeBudgetLimitExceeded,
		Message: "Cache refresh is temporarily disabled due to budget constraints.",
		Details: warning,
		Headers: map[string]string{"X-Budget-Warning": "CRITICAL"},
	}
}
