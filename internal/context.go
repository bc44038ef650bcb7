package internal

import (
	"context"
	"time"
)

type ctxKey string

const ContextVendorKey ctxKey = "vendorID"

func VendorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if vendorID, ok := ctx.Value(ContextVendorKey).(string); ok {
		return vendorID
	}
	return ""
}

func ContextWithVendorID(ctx context.Context, vendorID string) context.Context {
	return context.WithValue(ctx, ContextVendorKey, vendorID)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
