// Package display implements the per-display controller: the frame
// state machine (Init → Prepare → Commit → Flush) each registered
// display runs once per frame, and the configuration surface a caller
// drives outside that cycle (active config, refresh rate, cursor, color
// management pass-throughs).
package display

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/sdecore/sde/internal/compose"
	"github.com/sdecore/sde/internal/hwdevice"
	"github.com/sdecore/sde/internal/layer"
	"github.com/sdecore/sde/internal/pipe"
	"github.com/sdecore/sde/internal/rotator"
	"github.com/sdecore/sde/internal/sdeerr"
	"github.com/sdecore/sde/internal/strategy"
)

// Kind is the panel/output class a Controller drives.
type Kind int

const (
	KindPrimary Kind = iota
	KindHDMI
	KindVirtual
)

// PanelMode is how the panel consumes frames: video mode free-runs at
// the panel's refresh rate, command mode latches only on an explicit
// commit. Command-mode panels have no idle-notify event and reject
// asynchronous cursor updates.
type PanelMode int

const (
	VideoMode PanelMode = iota
	CommandMode
)

// S3DMode is a stereoscopic frame-packing layout an HDMI sink may
// request.
type S3DMode int

const (
	S3DNone S3DMode = iota
	S3DLeftRight
	S3DTopBottom
	S3DFramePacking
)

// PanelInfo carries the panel attributes Init is given that never change
// per-frame.
type PanelInfo struct {
	Mode          PanelMode
	MinBrightness int
	MaxBrightness int
	Underscan     bool
}

// Config is one display mode: resolution, refresh rate, mixer output
// rect, and the S3D packing it carries (HDMI only).
type Config struct {
	Width, Height int
	RefreshRateHz int
	MixerWidth    int
	MixerHeight   int
	S3D           S3DMode
}

// DetailEnhancerData is the sharpness tuning block passed through to the
// backend's scaler; the algorithm behind it is not this core's concern.
type DetailEnhancerData struct {
	Enable         bool
	SharpFactor    int
	DetailEnhancer int
}

// FrameState tracks where a display is in its per-frame lifecycle; calls
// made out of order (e.g. Commit before Prepare) are rejected.
type FrameState int

const (
	FrameIdle FrameState = iota
	FramePrepared
)

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithModes supplies the display's mode table and, for HDMI, the S3D
// layout the sink requested; Init picks the initial mode from these.
func WithModes(modes []Config, requested S3DMode) Option {
	return func(c *Controller) {
		c.modes = append([]Config(nil), modes...)
		c.requestedS3D = requested
	}
}

// WithPanelInfo supplies the panel attributes.
func WithPanelInfo(p PanelInfo) Option {
	return func(c *Controller) { c.panel = p }
}

// Controller drives one display's frame cycle and configuration surface.
// frameMu serializes the Prepare/Commit/Flush cycle; cfgMu guards the
// configuration fields a caller may change between frames.
type Controller struct {
	id   pipe.HWBlockID
	kind Kind
	hw   hwdevice.HWInterface
	comp *compose.Manager
	rot  *rotator.Manager
	log  *log.Logger

	frameMu        sync.Mutex
	state          FrameState
	pending        *layer.HWLayers
	lastErr        bool
	cursorEligible bool

	cfgMu           sync.Mutex
	cfg             Config
	modes           []Config
	activeConfig    int
	requestedS3D    S3DMode
	panel           PanelInfo
	powerState      hwdevice.PowerState
	partialUpdateOK bool
	vsyncEnabled    bool
	idleTimeoutMs   int
	maxMixerStages  int
	brightness      int
	enhancer        DetailEnhancerData
}

// New constructs a Controller for a registered display. comp must already
// have RegisterDisplay called for id before the first Prepare.
func New(id pipe.HWBlockID, kind Kind, hw hwdevice.HWInterface, comp *compose.Manager, rot *rotator.Manager, logger *log.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	c := &Controller{id: id, kind: kind, hw: hw, comp: comp, rot: rot, log: logger, powerState: hwdevice.PowerOff}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Init brings the display to a known-off state, chooses the initial mode
// from the mode table — for HDMI the highest-resolution mode matching
// the requested S3D layout, otherwise index 0 — and clears the partial
// update gate.
func (c *Controller) Init(ctx context.Context) error {
	c.frameMu.Lock()
	c.state = FrameIdle
	c.pending = nil
	c.frameMu.Unlock()

	c.cfgMu.Lock()
	if len(c.modes) > 0 {
		idx := 0
		if c.kind == KindHDMI {
			idx = c.bestHDMIModeLocked()
		}
		c.activeConfig = idx
		c.cfg = c.modes[idx]
	}
	c.partialUpdateOK = false
	c.cfgMu.Unlock()

	return c.hw.SetPowerState(ctx, hwdevice.PowerOff)
}

// bestHDMIModeLocked returns the index of the highest-resolution mode
// whose S3D layout matches the requested one, falling back to index 0
// when no mode matches.
func (c *Controller) bestHDMIModeLocked() int {
	best, bestArea := -1, -1
	for i, m := range c.modes {
		if m.S3D != c.requestedS3D {
			continue
		}
		if area := m.Width * m.Height; area > bestArea {
			best, bestArea = i, area
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

// Deinit tears the display down: any in-flight or committed frame is
// flushed, held pipes and rotator sessions are purged, and the panel is
// powered off.
func (c *Controller) Deinit(ctx context.Context) error {
	if err := c.Flush(ctx); err != nil {
		return err
	}
	return c.SetDisplayState(ctx, hwdevice.PowerOff)
}

// Prepare validates stack, resolves a composition plan via the
// composition manager, and dry-runs it against the backend. Exactly one
// Commit or Flush must follow before the next Prepare; a second Prepare
// while a plan is pending returns Undefined. On failure the controller
// records it, and the next Prepare's HWLayers carries ValidationErr so the
// composition manager forces a safe (GPU-only) plan.
func (c *Controller) Prepare(ctx context.Context, stack *layer.LayerStack) (*layer.HWLayers, error) {
	if err := stack.Validate(); err != nil {
		return nil, fmt.Errorf("display[%d]: prepare: %w", c.id, err)
	}

	c.cfgMu.Lock()
	active := c.powerState == hwdevice.PowerOn || c.powerState == hwdevice.PowerDoze
	mixerW, mixerH := c.cfg.MixerWidth, c.cfg.MixerHeight
	c.cfgMu.Unlock()
	if !active {
		return nil, sdeerr.New(fmt.Sprintf("display[%d]: prepare", c.id), sdeerr.Permission)
	}
	if err := stack.ValidateMixerBounds(mixerW, mixerH); err != nil {
		return nil, fmt.Errorf("display[%d]: prepare: %w", c.id, err)
	}
	if c.kind == KindVirtual && stack.OutputBuffer == nil {
		return nil, sdeerr.New(fmt.Sprintf("display[%d]: prepare: no output buffer", c.id), sdeerr.Parameters)
	}

	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	if c.state == FramePrepared {
		return nil, sdeerr.New(fmt.Sprintf("display[%d]: prepare: commit pending", c.id), sdeerr.Undefined)
	}

	hw := &layer.HWLayers{Stack: stack, ValidationErr: c.lastErr}
	useCursor := c.hw.Caps().SupportsCursor && stack.TopCursorEligible()
	cons := strategy.Constraints{
		UseCursor: useCursor,
		MaxLayers: c.maxLayers(),
	}
	if err := c.comp.Prepare(c.id, hw, cons); err != nil {
		c.lastErr = true
		return nil, err
	}
	if err := c.prepareRotators(hw); err != nil {
		c.lastErr = true
		return nil, err
	}
	c.marshalStrides(hw)
	if err := c.hw.Validate(ctx, hw); err != nil {
		c.lastErr = true
		return nil, fmt.Errorf("display[%d]: validate: %w", c.id, err)
	}
	c.lastErr = false
	c.cursorEligible = useCursor
	c.state = FramePrepared
	c.pending = hw
	return hw, nil
}

// prepareRotators opens a rotator session (C3.Prepare) for every hardware
// layer whose transform is not identity, per §4.5: "a layer needs
// rotation when its transform is not identity". (The companion trigger —
// a downscale beyond the pipe's scaling limits — is evaluated earlier by
// the resource manager's scaling validator against the layer's original
// crop and is not re-derived here; a layer that fails on that basis never
// reaches this point.) Rotation itself always starts the session pool's
// frame cycle even when no layer this frame needs one, mirroring the
// pipe resource manager's unconditional per-frame Start, and ends it with
// Stop, which releases every session no layer reopened this frame.
func (c *Controller) prepareRotators(hw *layer.HWLayers) error {
	if c.rot == nil {
		return nil
	}
	c.rot.Start()
	for i := range hw.Configs {
		cfg := &hw.Configs[i]
		l := &hw.Stack.Layers[cfg.LayerIndex]
		if l.Transform == (layer.Transform{}) {
			continue
		}
		width, height := int(l.SrcCrop.Width()), int(l.SrcCrop.Height())
		sessionID, err := c.rot.OpenSession(rotator.Config{
			Width: width, Height: height, Format: l.Buffer.Format, Transform: l.Transform,
		})
		if err != nil {
			return fmt.Errorf("display[%d]: prepare: rotator: %w", c.id, err)
		}
		cfg.RotatorNeeded = true
		cfg.Rotator = layer.HWRotatorSession{SessionID: sessionID, Width: width, Height: height, Format: l.Buffer.Format}
		// The rotator performs the flip itself, so the pipe side must not
		// flip the already-rotated buffer again.
		cfg.Left.Flags &^= layer.PipeFlagFlipHorizontal | layer.PipeFlagFlipVertical
		cfg.Right.Flags &^= layer.PipeFlagFlipHorizontal | layer.PipeFlagFlipVertical
	}
	if err := c.rot.Stop(); err != nil {
		return fmt.Errorf("display[%d]: prepare: rotator: %w", c.id, err)
	}
	return nil
}

// marshalStrides fills in each pipe side's Stride per §4.2: taken
// straight from the input buffer for a physical display layer, and
// recomputed from width x bytes-per-pixel for a layer served through the
// rotator or destined for a virtual (writeback) display, neither of
// which can be trusted to report the same stride the pipe will read.
// UBWC strides are tile-aligned by the allocator and never recomputed.
func (c *Controller) marshalStrides(hw *layer.HWLayers) {
	for i := range hw.Configs {
		cfg := &hw.Configs[i]
		l := &hw.Stack.Layers[cfg.LayerIndex]
		stride := l.Buffer.Planes[0].Stride
		if (cfg.RotatorNeeded || c.kind == KindVirtual) && !l.Buffer.Format.IsUBWC() {
			stride = l.Buffer.Width * l.Buffer.Format.BytesPerPixel()
		}
		if cfg.Left.Valid {
			cfg.Left.Stride = stride
		}
		if cfg.Right.Valid {
			cfg.Right.Stride = stride
		}
	}
}

// Commit makes a previously Prepared plan current. It is only legal
// immediately following a successful Prepare with the same stack. The
// rotator commit (C3) runs before the device commit, and the rotator
// post-commit (C3 PostCommit) runs right after it, per §4.1's Commit
// operation order: rotator commit, device commit, rotator post-commit,
// composition-manager post-commit. A failed device commit loses the
// frame: the pending plan is dropped and the error surfaces without
// retry.
func (c *Controller) Commit(ctx context.Context, hw *layer.HWLayers) error {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	if c.state != FramePrepared {
		return sdeerr.New(fmt.Sprintf("display[%d]: commit", c.id), sdeerr.Undefined)
	}
	if hw != c.pending {
		return sdeerr.New(fmt.Sprintf("display[%d]: commit: stack mismatch", c.id), sdeerr.Parameters)
	}
	c.state = FrameIdle
	c.pending = nil
	if err := c.commitRotators(hw); err != nil {
		return err
	}
	if err := c.hw.Commit(ctx, hw); err != nil {
		return fmt.Errorf("display[%d]: commit: %w", c.id, err)
	}
	if err := c.postCommitRotators(hw); err != nil {
		return err
	}
	c.comp.PostCommit(c.id)
	return nil
}

// commitRotators calls GetNextBuffer for every layer prepared with a
// rotator session — the point where a wait on that slot's previous
// release fence happens — and substitutes the rotator's output buffer
// for the layer's input buffer, per §4.2's "source rect after rotation
// substitution" rule. This model's HWSession never produces a real
// acquire fence of its own (rotation is treated as synchronous from the
// core's point of view, §5), so none is attached to the substituted
// buffer.
func (c *Controller) commitRotators(hw *layer.HWLayers) error {
	if c.rot == nil {
		return nil
	}
	for i := range hw.Configs {
		cfg := &hw.Configs[i]
		if !cfg.RotatorNeeded {
			continue
		}
		fd, offset, err := c.rot.GetNextBuffer(cfg.Rotator.SessionID)
		if err != nil {
			return fmt.Errorf("display[%d]: commit: rotator: %w", c.id, err)
		}
		l := &hw.Stack.Layers[cfg.LayerIndex]
		l.Buffer.Width, l.Buffer.Height, l.Buffer.Format = cfg.Rotator.Width, cfg.Rotator.Height, cfg.Rotator.Format
		l.Buffer.Planes[0] = layer.Plane{FD: fd, Offset: offset, Stride: cfg.Rotator.Width * cfg.Rotator.Format.BytesPerPixel()}
		l.Buffer.PlaneCount = 1
		full := layer.Rect{Right: float32(cfg.Rotator.Width), Bottom: float32(cfg.Rotator.Height)}
		if cfg.Left.Valid && cfg.Right.Valid {
			// A dual-pipe layer keeps tiling the substituted buffer.
			mid := float32(cfg.Rotator.Width / 2)
			cfg.Left.SrcRect = layer.Rect{Right: mid, Bottom: full.Bottom}
			cfg.Right.SrcRect = layer.Rect{Left: mid, Right: full.Right, Bottom: full.Bottom}
		} else if cfg.Left.Valid {
			cfg.Left.SrcRect = full
		}
	}
	return nil
}

// postCommitRotators records the rotator-output release fence into each
// needing session's ring and advances curr_index (C3.PostCommit). The
// backends this core drives do not produce a distinct per-layer release
// fence of their own, so layer.NoFence is recorded — the same "already
// signalled" convention §6 defines for exactly this case.
func (c *Controller) postCommitRotators(hw *layer.HWLayers) error {
	if c.rot == nil {
		return nil
	}
	for i := range hw.Configs {
		cfg := &hw.Configs[i]
		if !cfg.RotatorNeeded {
			continue
		}
		if err := c.rot.SetReleaseFd(cfg.Rotator.SessionID, layer.NoFence); err != nil {
			return fmt.Errorf("display[%d]: postcommit: rotator: %w", c.id, err)
		}
	}
	return nil
}

// Flush abandons whatever frame is in flight: it drops any pending plan,
// purges this display's rotator sessions and pipes, submits the
// backend's empty flush, and clears the pending-commit flag. It is legal
// in any frame state.
func (c *Controller) Flush(ctx context.Context) error {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	c.state = FrameIdle
	c.pending = nil
	c.comp.Purge(c.id)
	if c.rot != nil {
		c.rot.Start()
		c.rot.Stop()
	}
	if err := c.hw.Flush(ctx); err != nil {
		return fmt.Errorf("display[%d]: flush: %w", c.id, err)
	}
	return nil
}

// Purge tears down any pipes/sessions this display holds outside the
// normal frame cycle, for teardown or panel-mode transitions. Start()
// followed immediately by Stop() with no intervening OpenSession, per
// §4.5, promotes every still-Acquired session to Ready before releasing
// it, so a session held across the last committed frame is reclaimed
// too rather than only ones already sitting Ready.
func (c *Controller) Purge() {
	c.comp.Purge(c.id)
	if c.rot != nil {
		c.rot.Start()
		c.rot.Stop()
	}
}

// SetDisplayState changes the backend power mode. It is idempotent: a
// repeat call with the state already current returns None without
// touching the backend. A transition to Off always flushes first, per
// the frame state machine.
func (c *Controller) SetDisplayState(ctx context.Context, state hwdevice.PowerState) error {
	c.cfgMu.Lock()
	current := c.powerState
	c.cfgMu.Unlock()
	if current == state {
		return nil
	}

	if state == hwdevice.PowerOff {
		if err := c.Flush(ctx); err != nil {
			return err
		}
	}

	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if err := c.hw.SetPowerState(ctx, state); err != nil {
		return fmt.Errorf("display[%d]: setstate: %w", c.id, err)
	}
	c.powerState = state
	return nil
}

// GetDisplayState reports the current power state.
func (c *Controller) GetDisplayState() hwdevice.PowerState {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.powerState
}

// ReconfigureDisplay applies a new Config. Reconfiguring with attributes
// identical to the current ones is a no-op and in particular does not
// clear the partial-update gate; any real change disables partial update
// for exactly the next frame.
func (c *Controller) ReconfigureDisplay(cfg Config) error {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.reconfigureLocked(cfg)
}

func (c *Controller) reconfigureLocked(cfg Config) error {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.RefreshRateHz <= 0 {
		return sdeerr.New(fmt.Sprintf("display[%d]: reconfigure", c.id), sdeerr.Parameters)
	}
	if cfg == c.cfg {
		return nil
	}
	c.cfg = cfg
	c.partialUpdateOK = false
	c.log.Printf("display[%d]: reconfigured to %dx%d@%dHz", c.id, cfg.Width, cfg.Height, cfg.RefreshRateHz)
	return nil
}

// GetNumVariableInfoConfigs reports how many modes the display exposes.
func (c *Controller) GetNumVariableInfoConfigs() int {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return len(c.modes)
}

// GetConfig returns mode index's attributes.
func (c *Controller) GetConfig(index int) (Config, error) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if index < 0 || index >= len(c.modes) {
		return Config{}, sdeerr.New(fmt.Sprintf("display[%d]: getconfig", c.id), sdeerr.Parameters)
	}
	return c.modes[index], nil
}

// SetActiveConfig switches the display to mode index.
func (c *Controller) SetActiveConfig(index int) error {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if index < 0 || index >= len(c.modes) {
		return sdeerr.New(fmt.Sprintf("display[%d]: setactiveconfig", c.id), sdeerr.Parameters)
	}
	if err := c.reconfigureLocked(c.modes[index]); err != nil {
		return err
	}
	c.activeConfig = index
	return nil
}

// GetActiveConfig reports the index set by the last SetActiveConfig (or
// chosen by Init).
func (c *Controller) GetActiveConfig() int {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.activeConfig
}

// ApplyDefaultDisplayMode returns the display to mode index 0.
func (c *Controller) ApplyDefaultDisplayMode() error {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if len(c.modes) == 0 {
		return sdeerr.New(fmt.Sprintf("display[%d]: applydefaultmode", c.id), sdeerr.NotSupported)
	}
	if err := c.reconfigureLocked(c.modes[0]); err != nil {
		return err
	}
	c.activeConfig = 0
	return nil
}

// SetRefreshRate adjusts only the refresh rate of the current mode.
func (c *Controller) SetRefreshRate(hz int) error {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if hz <= 0 {
		return sdeerr.New(fmt.Sprintf("display[%d]: setrefreshrate", c.id), sdeerr.Parameters)
	}
	cfg := c.cfg
	cfg.RefreshRateHz = hz
	return c.reconfigureLocked(cfg)
}

// GetRefreshRateRange reports the lowest and highest refresh rate across
// the mode table; a display with no modes reports the current rate for
// both ends.
func (c *Controller) GetRefreshRateRange() (min, max int) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if len(c.modes) == 0 {
		return c.cfg.RefreshRateHz, c.cfg.RefreshRateHz
	}
	min, max = c.modes[0].RefreshRateHz, c.modes[0].RefreshRateHz
	for _, m := range c.modes[1:] {
		if m.RefreshRateHz < min {
			min = m.RefreshRateHz
		}
		if m.RefreshRateHz > max {
			max = m.RefreshRateHz
		}
	}
	return min, max
}

// SetMixerResolution overrides the mixer output rect.
func (c *Controller) SetMixerResolution(w, h int) error {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if w <= 0 || h <= 0 {
		return sdeerr.New(fmt.Sprintf("display[%d]: setmixerresolution", c.id), sdeerr.Parameters)
	}
	cfg := c.cfg
	cfg.MixerWidth, cfg.MixerHeight = w, h
	return c.reconfigureLocked(cfg)
}

// GetMixerResolution reports the mixer output rect.
func (c *Controller) GetMixerResolution() (w, h int) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.cfg.MixerWidth, c.cfg.MixerHeight
}

// SetFrameBufferConfig overrides the frame-buffer dimensions.
func (c *Controller) SetFrameBufferConfig(w, h int) error {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if w <= 0 || h <= 0 {
		return sdeerr.New(fmt.Sprintf("display[%d]: setframebufferconfig", c.id), sdeerr.Parameters)
	}
	cfg := c.cfg
	cfg.Width, cfg.Height = w, h
	return c.reconfigureLocked(cfg)
}

// GetFrameBufferConfig reports the frame-buffer dimensions.
func (c *Controller) GetFrameBufferConfig() (w, h int) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.cfg.Width, c.cfg.Height
}

// SetDisplayMode switches the panel between video and command mode.
func (c *Controller) SetDisplayMode(mode PanelMode) error {
	if c.kind == KindVirtual {
		return sdeerr.New(fmt.Sprintf("display[%d]: setdisplaymode", c.id), sdeerr.NotSupported)
	}
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.panel.Mode = mode
	return nil
}

// PanelMode reports the current panel mode.
func (c *Controller) PanelMode() PanelMode {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.panel.Mode
}

// IsUnderscanSupported reports whether the sink honours underscan.
func (c *Controller) IsUnderscanSupported() bool {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.panel.Underscan
}

// SetPanelBrightness sets the backlight level within the panel's
// advertised range.
func (c *Controller) SetPanelBrightness(level int) error {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if c.panel.MaxBrightness <= c.panel.MinBrightness {
		return sdeerr.New(fmt.Sprintf("display[%d]: setpanelbrightness", c.id), sdeerr.NotSupported)
	}
	if level < c.panel.MinBrightness || level > c.panel.MaxBrightness {
		return sdeerr.New(fmt.Sprintf("display[%d]: setpanelbrightness", c.id), sdeerr.Parameters)
	}
	c.brightness = level
	return nil
}

// GetPanelBrightness reports the last level set.
func (c *Controller) GetPanelBrightness() int {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.brightness
}

// SetVSyncState enables or disables vsync event delivery for this
// display.
func (c *Controller) SetVSyncState(enable bool) error {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.vsyncEnabled = enable
	return nil
}

// GetVSyncState reports whether vsync delivery is enabled.
func (c *Controller) GetVSyncState() bool {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.vsyncEnabled
}

// SetIdleTimeoutMs sets how long the display may go without an updating
// frame before the idle event fires. Command-mode panels have no idle
// event.
func (c *Controller) SetIdleTimeoutMs(ms int) error {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if c.panel.Mode == CommandMode {
		return sdeerr.New(fmt.Sprintf("display[%d]: setidletimeout", c.id), sdeerr.NotSupported)
	}
	if ms < 0 {
		return sdeerr.New(fmt.Sprintf("display[%d]: setidletimeout", c.id), sdeerr.Parameters)
	}
	c.idleTimeoutMs = ms
	return nil
}

// SetMaxMixerStages caps how many stages the mixer may blend per frame.
func (c *Controller) SetMaxMixerStages(stages int) error {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if stages < 1 {
		return sdeerr.New(fmt.Sprintf("display[%d]: setmaxmixerstages", c.id), sdeerr.Parameters)
	}
	c.maxMixerStages = stages
	return nil
}

// SetDetailEnhancerData passes a scaler sharpness block through to the
// backend; the enhancement algorithm is not this core's concern.
func (c *Controller) SetDetailEnhancerData(data DetailEnhancerData) error {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.enhancer = data
	return nil
}

// SetCursorPosition moves the hardware cursor overlay. It is valid only
// while the display is On, only on a video-mode panel (command mode has
// no async position update), and only when the most recently prepared
// stack's top layer was cursor-eligible (backend cursor support plus
// LayerStack.TopCursorEligible); any other state
// returns NotSupported rather than touching the backend.
func (c *Controller) SetCursorPosition(ctx context.Context, x, y int) error {
	c.cfgMu.Lock()
	onState := c.powerState == hwdevice.PowerOn
	videoMode := c.panel.Mode == VideoMode
	c.cfgMu.Unlock()
	c.frameMu.Lock()
	eligible := c.cursorEligible
	c.frameMu.Unlock()
	if !onState || !videoMode || !eligible {
		return sdeerr.New(fmt.Sprintf("display[%d]: setcursorposition", c.id), sdeerr.NotSupported)
	}
	return c.hw.SetCursorPosition(ctx, x, y)
}

// ControlPartialUpdate enables or disables partial-update compositing.
// It is a gate only: the ROI algorithms that would act on it are out of
// scope.
func (c *Controller) ControlPartialUpdate(ctx context.Context, enable bool) error {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.partialUpdateOK = enable
	return nil
}

// GetColorModeCount/GetColorModes/SetColorMode/SetColorTransform
// delegate to the backend; color management itself is out of scope so
// these exist only so callers that enumerate the full display API
// surface never hit an unimplemented call.
func (c *Controller) GetColorModeCount(ctx context.Context) (int, error) {
	return c.hw.GetColorModeCount(ctx)
}

func (c *Controller) GetColorModes(ctx context.Context) ([]string, error) {
	return c.hw.GetColorModes(ctx)
}

func (c *Controller) SetColorMode(ctx context.Context, mode string) error {
	return c.hw.SetColorMode(ctx, mode)
}

func (c *Controller) SetColorTransform(ctx context.Context, matrix [16]float32) error {
	return c.hw.SetColorTransform(ctx, matrix)
}

// OnMinHdcpEncryptionLevelChange and ColorSVCRequestRoute are stubbed as
// no-ops: content protection and color service routing belong to a
// module this core does not own.
func (c *Controller) OnMinHdcpEncryptionLevelChange(ctx context.Context, level int) error {
	return nil
}

func (c *Controller) ColorSVCRequestRoute(ctx context.Context, req int) error {
	return nil
}

// maxLayers returns the strategy constraint's hardware-layer cap: 0
// ("use the full pipe budget") for the primary, 2 for non-primary
// panels. An HDMI display driven in an S3D packing returns -1 ("no
// hardware layers at all"), forcing a GPU-only plan, since the packed
// halves cannot be split across pipes.
func (c *Controller) maxLayers() int {
	if c.kind == KindHDMI {
		c.cfgMu.Lock()
		s3d := c.cfg.S3D
		c.cfgMu.Unlock()
		if s3d != S3DNone {
			return -1
		}
	}
	if c.kind == KindPrimary {
		return 0
	}
	return 2
}

func (c *Controller) Kind() Kind         { return c.kind }
func (c *Controller) ID() pipe.HWBlockID { return c.id }
