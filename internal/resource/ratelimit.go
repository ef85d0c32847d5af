package resource

import (
	"context"
	"io"
)

// RateLimitedWriter wraps an io.Writer and throttles writes against the
// controller's IO budget.
type RateLimitedWriter struct {
	ctx context.Context
	w   io.Writer
	c   *Controller
}

// NewRateLimitedWriter returns a writer that acquires IO tokens for every
// write. The context bounds how long a write may wait for tokens.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, c *Controller) *RateLimitedWriter {
	return &RateLimitedWriter{ctx: ctx, w: w, c: c}
}

// Write throttles then forwards to the underlying writer.
func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	if err := w.c.AcquireIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}
