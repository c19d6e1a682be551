//go:build !cgo

package hal

import (
	"context"
	"errors"
)

// RunWindow is unavailable without cgo.
func RunWindow(_ context.Context, _ func(HAL) StepFunc, _ RunConfig) error {
	return errors.New("window mode requires cgo (build/run with CGO_ENABLED=1), use --headless")
}
