// Package degrade turns infrastructure failures into misses and no-ops. Cache
// and fallback store calls go through it so a broken backing service only
// costs a log line.
package degrade

import "github.com/nanzhong/marketdata/logger"

// Value runs fn and returns its result. On error or panic it logs the failure
// and returns the zero value of T.
func Value[T any](log *logger.Entry, op string, fn func() (T, error)) (out T) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logger.Fields{"operation": op}).Errorf("recovered panic: %v", r)
			var zero T
			out = zero
		}
	}()

	v, err := fn()
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"operation": op}).Warn("degraded")
		var zero T
		return zero
	}
	return v
}

// Do runs fn, logging and swallowing any error or panic. It reports whether fn
// succeeded.
func Do(log *logger.Entry, op string, fn func() error) bool {
	ok := Value(log, op, func() (bool, error) {
		if err := fn(); err != nil {
			return false, err
		}
		return true, nil
	})
	return ok
}
