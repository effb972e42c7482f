// Package hwdevice defines the hardware device adaptor boundary: the
// narrow interface every display backend implements so the rest of the
// composition core never touches a concrete GPU or windowing API
// directly.
package hwdevice

import (
	"context"

	"github.com/sdecore/sde/internal/layer"
)

// PowerState is the display panel's power mode.
type PowerState int

const (
	PowerOff PowerState = iota
	PowerOn
	PowerDoze
	PowerDozeSuspend
	PowerStandby
)

// Caps describes what a backend's hardware can do. The core reads only
// SupportsCursor from it; pipe inventories and scale limits are not
// derived from Caps but passed in as pipe.Inventory (sde.New) and
// pipe.ScaleLimits (RegisterDisplay).
type Caps struct {
	MaxSourceWidth int
	MaxInterfaceW  int
	MaxScaleDown   float32
	MaxScaleUp     float32
	HasDecimation  bool
	SupportsCursor bool
}

// HWInterface is implemented by each concrete display backend. Validate
// performs a dry run of a resolved plan without touching hardware state;
// Commit makes it current; Flush releases any buffers the backend is
// still holding once the caller is done with a frame.
type HWInterface interface {
	Caps() Caps
	Validate(ctx context.Context, hw *layer.HWLayers) error
	Commit(ctx context.Context, hw *layer.HWLayers) error
	Flush(ctx context.Context) error

	SetPowerState(ctx context.Context, state PowerState) error
	SetCursorPosition(ctx context.Context, x, y int) error

	// GetColorModeCount/GetColorModes/SetColorMode/SetColorTransform are
	// pass-through hooks display.Controller delegates to; color
	// management itself is out of scope so a backend may return
	// NotSupported/no-op safely.
	GetColorModeCount(ctx context.Context) (int, error)
	GetColorModes(ctx context.Context) ([]string, error)
	SetColorMode(ctx context.Context, mode string) error
	SetColorTransform(ctx context.Context, matrix [16]float32) error
}

// VSyncFunc is invoked by a backend on every vertical sync tick.
type VSyncFunc func(timestampNanos int64)
