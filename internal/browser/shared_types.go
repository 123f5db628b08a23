// internal/browser/shared_types.go
package browser

import (
	"context"
	"time"
)

// valueOnlyContext is a context that inherits values but not cancellation.
// The batch browser must survive cancellation of the context that launched it.
type valueOnlyContext struct{ context.Context }

func (valueOnlyContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (valueOnlyContext) Done() <-chan struct{}       { return nil }
func (valueOnlyContext) Err() error                  { return nil }
