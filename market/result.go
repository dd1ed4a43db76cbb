package market

// FetchError is a per-key fetch failure.
type FetchError struct {
	Reason string
}

func (e *FetchError) Error() string { return e.Reason }

// Result is either a trusted live item or a failure. A failure may still carry
// a provisional item (for example a provider default rate) that is used when no
// better fallback exists.
type Result struct {
	item *Item
	err  *FetchError
}

func Ok(item Item) Result {
	return Result{item: &item}
}

func Failed(reason string) Result {
	return Result{err: &FetchError{Reason: reason}}
}

// Degraded is a failure that keeps the provider's value as a last resort.
func Degraded(item Item, reason string) Result {
	return Result{item: &item, err: &FetchError{Reason: reason}}
}

// Item returns the live item, if the result succeeded.
func (r Result) Item() (Item, bool) {
	if r.err != nil || r.item == nil {
		return Item{}, false
	}
	return *r.item, true
}

// Provisional returns the item kept on a degraded failure.
func (r Result) Provisional() (Item, bool) {
	if r.err == nil || r.item == nil {
		return Item{}, false
	}
	return *r.item, true
}

func (r Result) Err() *FetchError {
	return r.err
}

// Batch maps requested keys to their normalised results.
type Batch map[string]Result
