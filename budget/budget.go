package budget

import "context"

// Checker reports how close the deployment is to its spend ceiling. Forced
// refreshes are refused while IsCritical is true.
type Checker interface {
	IsCritical(ctx context.Context) bool
	// WarningMessage returns the banner to show callers, or "" when usage is
	// comfortably below the limits.
	WarningMessage(ctx context.Context) string
}

// Static is a fixed Checker, used when no budget source is configured.
type Static struct {
	Critical bool
	Message  string
}

func (s Static) IsCritical(ctx context.Context) bool { return s.Critical }
func (s Static) WarningMessage(ctx context.Context) string { return s.Message }
