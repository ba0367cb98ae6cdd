package model

import (
	"fmt"
	"time"
)

// MalformedInputError reports candle data that violates the PriceSeries
// contract (missing fields, non-monotonic timestamps). It aborts the
// current evaluation; callers detect it with errors.As.
type MalformedInputError struct {
	Field  string
	TS     time.Time
	Reason string
}

func (e *MalformedInputError) Error() string {
	if e.TS.IsZero() {
		return fmt.Sprintf("malformed input: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed input: %s at %s %s", e.Field, e.TS.Format(time.RFC3339), e.Reason)
}
