//go:build !unix

package main

import (
	"context"
	"sync/atomic"

	"spindle/app"
	"spindle/internal/logging"
)

func relaySignals(ctx context.Context, _ *logging.Logger, _ *atomic.Pointer[app.System]) {
	<-ctx.Done()
}
