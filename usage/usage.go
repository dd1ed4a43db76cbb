package usage

import (
	"context"
	"time"
)

const unknown = "unknown"

// Caller identifies who is spending quota.
type Caller struct {
	IP        string
	UserAgent string
	SessionID string
}

// Key is the counter key for the caller. Sessions win over addresses.
func (c Caller) Key() string {
	if c.SessionID != "" {
		return "session:" + c.SessionID
	}
	if c.IP != "" {
		return "ip:" + c.IP
	}
	return "ip:" + unknown
}

type Count struct {
	Count int64 `json:"count"`
	Limit int64 `json:"limit"`
}

type Usage struct {
	Daily   Count `json:"daily"`
	Monthly Count `json:"monthly"`
}

type Decision struct {
	Allowed bool  `json:"allowed"`
	Usage   Usage `json:"usage"`
}

// Checker counts a live fetch against the caller's windows and reports
// whether it is permitted.
type Checker interface {
	CheckAndUpdate(ctx context.Context, caller Caller) (Decision, error)
}

type Limits struct {
	Daily   int64
	Monthly int64
}

func decide(daily, monthly int64, limits Limits) Decision {
	return Decision{
		Allowed: daily <= limits.Daily && monthly <= limits.Monthly,
		Usage: Usage{
			Daily:   Count{Count: daily, Limit: limits.Daily},
			Monthly: Count{Count: monthly, Limit: limits.Monthly},
		},
	}
}

func dayWindow(t time.Time) string   { return t.UTC().Format("2006-01-02") }
func monthWindow(t time.Time) string { return t.UTC().Format("2006-01") }
