package pipe

import (
	"testing"

	"github.com/sdecore/sde/internal/layer"
	"github.com/sdecore/sde/internal/sdeerr"
)

func TestNewManagerSeedsSplashOwnership(t *testing.T) {
	m := NewManager(Inventory{RGB: 2, SplashPipes: 1})
	snap := m.Snapshot()
	var owned int
	for _, p := range snap {
		if p.State == StateOwnedByKernel {
			owned++
		}
	}
	if owned != 1 {
		t.Fatalf("expected 1 splash-owned pipe, got %d", owned)
	}
}

func TestAcquireYUVPrefersVIG(t *testing.T) {
	m := NewManager(Inventory{VIG: 1, RGB: 1, DMA: 1})
	const id HWBlockID = 1
	m.RegisterDisplay(id)
	if err := m.Start(id); err != nil {
		t.Fatalf("Start: %v", err)
	}
	asn, err := m.Acquire(id, []LayerNeed{{LayerIndex: 0, Format: layer.FormatYCbCr420SemiPlanar}})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	snap := m.Snapshot()
	if snap[asn[0].Left].Type != TypeVIG {
		t.Fatalf("YUV layer should be assigned a VIG pipe, got type %v", snap[asn[0].Left].Type)
	}
}

func TestAcquirePrefersDMAForPlainRGB(t *testing.T) {
	m := NewManager(Inventory{VIG: 1, RGB: 1, DMA: 1})
	const id HWBlockID = 1
	m.RegisterDisplay(id)
	m.Start(id)
	asn, err := m.Acquire(id, []LayerNeed{{LayerIndex: 0, Format: layer.FormatRGBA8888}})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	snap := m.Snapshot()
	if snap[asn[0].Left].Type != TypeDMA {
		t.Fatalf("plain RGB layer should prefer a DMA pipe, got %v", snap[asn[0].Left].Type)
	}
}

func TestAcquireExhaustionRollsBackReservations(t *testing.T) {
	m := NewManager(Inventory{RGB: 1})
	const id HWBlockID = 1
	m.RegisterDisplay(id)
	m.Start(id)

	needs := []LayerNeed{
		{LayerIndex: 0, Format: layer.FormatRGBA8888},
		{LayerIndex: 1, Format: layer.FormatRGBA8888},
	}
	_, err := m.Acquire(id, needs)
	if err == nil {
		t.Fatalf("expected resource exhaustion")
	}
	if sdeerr.CodeOf(err) != sdeerr.Resources {
		t.Fatalf("code = %v, want Resources", sdeerr.CodeOf(err))
	}

	// A subsequent single-layer acquire must succeed: the failed
	// reservation from the first call must have been cleared.
	asn, err := m.Acquire(id, needs[:1])
	if err != nil {
		t.Fatalf("Acquire after rollback: %v", err)
	}
	if len(asn) != 1 {
		t.Fatalf("expected 1 assignment, got %d", len(asn))
	}
}

func TestPostCommitReleasesSplashOnFirstPrimaryFrame(t *testing.T) {
	m := NewManager(Inventory{RGB: 2, SplashPipes: 1})
	const primary HWBlockID = 0
	m.RegisterDisplay(primary)
	if err := m.Start(primary); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.Stop(primary)
	m.PostCommit(primary)

	var toRelease int
	for _, p := range m.Snapshot() {
		if p.State == StateToRelease {
			toRelease++
		}
	}
	if toRelease != 1 {
		t.Fatalf("expected splash pipe marked ToRelease after first frame, got %d", toRelease)
	}

	if err := m.Start(primary); err != nil {
		t.Fatalf("Start (2nd frame): %v", err)
	}
	for _, p := range m.Snapshot() {
		if p.State == StateOwnedByKernel || p.State == StateToRelease {
			t.Fatalf("splash pipe should be Idle after second Start, got %v", p.State)
		}
	}
}

func TestPurgeReturnsAllPipesToIdle(t *testing.T) {
	m := NewManager(Inventory{RGB: 2})
	const id HWBlockID = 1
	m.RegisterDisplay(id)
	m.Start(id)
	m.Acquire(id, []LayerNeed{{LayerIndex: 0, Format: layer.FormatRGBA8888}})
	m.PostCommit(id)

	m.Purge(id)
	for _, p := range m.Snapshot() {
		if p.State != StateIdle {
			t.Fatalf("pipe %d still %v after purge", p.ID, p.State)
		}
	}
}

func TestSplashHandoffSkipsNonPrimaryFirstFrame(t *testing.T) {
	m := NewManager(Inventory{RGB: 3, SplashPipes: 1})
	const primary HWBlockID = 0
	const hdmi HWBlockID = 1
	m.RegisterDisplay(primary) // first registered display is the primary
	m.RegisterDisplay(hdmi)

	m.Start(hdmi)
	m.Acquire(hdmi, []LayerNeed{{LayerIndex: 0, Format: layer.FormatRGBA8888}})
	m.Stop(hdmi)
	m.PostCommit(hdmi)

	for _, p := range m.Snapshot() {
		if p.Type == TypeRGB && p.State == StateToRelease && p.Priority == 0 {
			t.Fatalf("splash pipe must stay kernel-owned until the primary's first frame")
		}
	}

	m.Start(primary)
	m.Stop(primary)
	m.PostCommit(primary)
	var handed int
	for _, p := range m.Snapshot() {
		if p.State == StateToRelease {
			handed++
		}
	}
	if handed == 0 {
		t.Fatalf("primary's first frame should hand the splash pipe back")
	}
}

func TestDualPipeVIGSwapKeepsLowPriorityOnLeft(t *testing.T) {
	m := NewManager(Inventory{VIG: 4})
	const id HWBlockID = 0
	m.RegisterDisplay(id)

	// Frame 1: two split YUV layers land on VIG0 (left) + VIG1 (right) and
	// VIG2 (left) + VIG3 (right).
	m.Start(id)
	if _, err := m.Acquire(id, []LayerNeed{
		{LayerIndex: 0, Format: layer.FormatYCbCr420SemiPlanar, Split: true},
		{LayerIndex: 1, Format: layer.FormatYCbCr420SemiPlanar, Split: true},
	}); err != nil {
		t.Fatalf("frame 1 Acquire: %v", err)
	}
	m.Stop(id)
	m.PostCommit(id)

	// Frame 2: a single layer reuses VIG0's left slot, so the split
	// layer's left side reuses left-side VIG2 (priority 2) while its right
	// side reuses right-side VIG1 (priority 1). The swap rule must put
	// VIG1 on the left.
	m.Start(id)
	asn, err := m.Acquire(id, []LayerNeed{
		{LayerIndex: 0, Format: layer.FormatYCbCr420SemiPlanar},
		{LayerIndex: 1, Format: layer.FormatYCbCr420SemiPlanar, Split: true},
	})
	if err != nil {
		t.Fatalf("frame 2 Acquire: %v", err)
	}
	m.Stop(id)

	snap := m.Snapshot()
	split := asn[1]
	if snap[split.Left].Priority > snap[split.Right].Priority {
		t.Fatalf("left side must hold the lower-priority VIG pipe: left prio %d, right prio %d",
			snap[split.Left].Priority, snap[split.Right].Priority)
	}
}

func TestAcquireReusesOppositeSidePipe(t *testing.T) {
	m := NewManager(Inventory{VIG: 2})
	const id HWBlockID = 0
	m.RegisterDisplay(id)

	m.Start(id)
	if _, err := m.Acquire(id, []LayerNeed{{LayerIndex: 0, Format: layer.FormatYCbCr420SemiPlanar, Split: true}}); err != nil {
		t.Fatalf("frame 1 Acquire: %v", err)
	}
	m.Stop(id)
	m.PostCommit(id)

	// Frame 2 wants two single (left-side) layers. Only one pipe was ever
	// on the left; the second layer must retarget the right-side pipe the
	// display already holds instead of failing.
	m.Start(id)
	if _, err := m.Acquire(id, []LayerNeed{
		{LayerIndex: 0, Format: layer.FormatYCbCr420SemiPlanar},
		{LayerIndex: 1, Format: layer.FormatYCbCr420SemiPlanar},
	}); err != nil {
		t.Fatalf("frame 2 Acquire should reuse the opposite-side pipe: %v", err)
	}
	m.Stop(id)
}

func TestNonScalarRGBForcesVIGForScaledLayers(t *testing.T) {
	m := NewManager(Inventory{RGB: 2, NonScalarRGB: true})
	const id HWBlockID = 0
	m.RegisterDisplay(id)
	m.Start(id)
	_, err := m.Acquire(id, []LayerNeed{{LayerIndex: 0, Format: layer.FormatRGBA8888, NeedScale: true}})
	if sdeerr.CodeOf(err) != sdeerr.Resources {
		t.Fatalf("scaled RGB layer on non-scalar RGB hardware with no VIG should exhaust, got %v", err)
	}
	m.Stop(id)

	m2 := NewManager(Inventory{VIG: 1, RGB: 2, NonScalarRGB: true})
	m2.RegisterDisplay(id)
	m2.Start(id)
	asn, err := m2.Acquire(id, []LayerNeed{{LayerIndex: 0, Format: layer.FormatRGBA8888, NeedScale: true}})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if m2.Snapshot()[asn[0].Left].Type != TypeVIG {
		t.Fatalf("scaled RGB layer should land on VIG when RGB pipes cannot scale")
	}
	m2.Stop(id)
}

func TestSplashHandoffSurvivesUncommittedFirstFrame(t *testing.T) {
	m := NewManager(Inventory{RGB: 2, SplashPipes: 1})
	const primary HWBlockID = 0
	m.RegisterDisplay(primary)

	// Frame 1 starts but never reaches PostCommit (strategy exhaustion,
	// validate failure, or a failed device commit).
	m.Start(primary)
	m.Stop(primary)

	// Frame 2 commits; the handoff must still fire.
	m.Start(primary)
	m.Stop(primary)
	m.PostCommit(primary)

	var handed int
	for _, p := range m.Snapshot() {
		if p.State == StateToRelease {
			handed++
		}
	}
	if handed != 1 {
		t.Fatalf("the splash pipe must be reclaimed on the first frame that actually commits, got %d ToRelease", handed)
	}
}
