package bincore

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// PointRegistry holds all instrumentation points, indexed by source
// instruction address, and enforces that no two points at the same
// address share a priority and that no point targets an unsafe
// overwrite region.
type PointRegistry struct {
	ctx *Context

	mu     sync.Mutex
	frozen bool

	byAddr map[Address][]*InstrumentationPoint
	// overwriteBytes caches the numberOfBytes computed for the first
	// point registered at an address, so later priorities at the same
	// address reuse it rather than re-decoding (they must chain onto the
	// same overwrite region).
	overwriteBytes map[Address]int

	// sharedPayloads is the shared-ownership table for payloads targeted
	// by more than one point: keyed by identity, not value.
	sharedPayloads map[uuid.UUID]Payload

	diag Diagnostics
}

// NewPointRegistry creates an empty registry bound to ctx for
// disassembly and branch-target lookups during registration.
func NewPointRegistry(ctx *Context) *PointRegistry {
	return &PointRegistry{
		ctx:            ctx,
		byAddr:         make(map[Address][]*InstrumentationPoint),
		overwriteBytes: make(map[Address]int),
		sharedPayloads: make(map[uuid.UUID]Payload),
	}
}

// Register appends point to the registry, computing its overwrite region
// on first registration at its source address and enforcing the exec-
// segment, duplicate-priority, and branch-target-safety rules.
func (r *PointRegistry) Register(point *InstrumentationPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		err := newRejectError(RegistryFrozen, point.Source.Addr, "registry is frozen")
		r.diag.add(err)
		return err
	}

	if !r.inExecSegment(point.Source.Addr) {
		err := newRejectError(UnsafeOverwrite, point.Source.Addr, "source instruction is not in the executable segment")
		r.diag.add(err)
		return err
	}

	existing := r.byAddr[point.Source.Addr]
	for _, other := range existing {
		if other.Priority == point.Priority {
			err := newRejectError(DuplicatePriorityAtAddress, point.Source.Addr,
				"a point with priority %s is already registered at this address", point.Priority)
			r.diag.add(err)
			return err
		}
	}

	nbytes, ok := r.overwriteBytes[point.Source.Addr]
	if !ok {
		var err error
		nbytes, err = r.computeOverwriteRegion(point)
		if err != nil {
			if ce := err.(*CoreError); ce.Kind.Severity() == SeverityReject {
				r.diag.add(ce)
			}
			return err
		}
		r.overwriteBytes[point.Source.Addr] = nbytes
	}
	point.numberOfBytes = nbytes

	if point.Payload.Shared() {
		r.sharedPayloads[point.Payload.ID()] = point.Payload
	}

	r.byAddr[point.Source.Addr] = append(r.byAddr[point.Source.Addr], point)
	if r.ctx != nil && r.ctx.Log != nil {
		r.ctx.Log.WithField("addr", point.Source.Addr).
			WithField("priority", point.Priority.String()).
			Debug("registered instrumentation point")
	}
	return nil
}

// computeOverwriteRegion grows the overwrite range from point's source
// address, absorbing whole original instructions until the accumulated
// length covers the unconditional-jump the trampoline will write, then
// checks branch-target safety over the interior of that range. An
// instruction that straddles the boundary is absorbed whole rather than
// split, per the resolution recorded in DESIGN.md.
func (r *PointRegistry) computeOverwriteRegion(point *InstrumentationPoint) (int, error) {
	minBytes := 0
	if point.Mode == Trampolined {
		minBytes = SizeUncondJump
	}

	addr := point.Source.Addr
	total := 0
	targets := r.branchTargets()
	for total < minBytes {
		inst, err := r.ctx.Disassembler.Decode(addr + Address(total))
		if err != nil {
			return 0, newFatalError(VerifyFailed, point.Source.Addr, "failed to decode instruction while sizing overwrite region: %v", err)
		}
		if total > 0 && targets[addr+Address(total)] {
			return 0, newRejectError(UnsafeOverwrite, point.Source.Addr,
				"overwrite region would clobber a branch target at 0x%x", uint64(addr+Address(total)))
		}
		total += inst.Length
	}
	return total, nil
}

func (r *PointRegistry) branchTargets() map[Address]bool {
	if r.ctx == nil || r.ctx.Image == nil {
		return nil
	}
	return r.ctx.Image.BranchTargets()
}

func (r *PointRegistry) inExecSegment(addr Address) bool {
	if r.ctx == nil || r.ctx.Image == nil {
		return true
	}
	for _, rng := range r.ctx.Image.ExecRanges() {
		if rng.Contains(addr) {
			return true
		}
	}
	return false
}

// PointsAt returns the points registered at address, sorted by priority
// ascending (SysInit first).
func (r *PointRegistry) PointsAt(addr Address) []*InstrumentationPoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	pts := append([]*InstrumentationPoint(nil), r.byAddr[addr]...)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Priority < pts[j].Priority })
	return pts
}

// FilterByRange returns every point whose source address falls in rng,
// ordered by (sourceAddress, priority) — used by Layout when placing
// region-local trampolines.
func (r *PointRegistry) FilterByRange(rng AddrRange) []*InstrumentationPoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*InstrumentationPoint
	for addr, pts := range r.byAddr {
		if rng.Contains(addr) {
			out = append(out, pts...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Source.Addr != out[j].Source.Addr {
			return out[i].Source.Addr < out[j].Source.Addr
		}
		return out[i].Priority < out[j].Priority
	})
	return out
}

// Addresses returns every distinct source address with at least one
// registered point, in ascending order.
func (r *PointRegistry) Addresses() []Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	addrs := make([]Address, 0, len(r.byAddr))
	for addr := range r.byAddr {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// Freeze transitions the registry to a read-only state. All later
// registration attempts fail with RegistryFrozen.
func (r *PointRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	for _, pts := range r.byAddr {
		for _, p := range pts {
			p.frozen = true
		}
	}
}

// Frozen reports whether Freeze has been called.
func (r *PointRegistry) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// SharedPayload looks up a payload in the shared-ownership table by
// identity.
func (r *PointRegistry) SharedPayload(id uuid.UUID) (Payload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.sharedPayloads[id]
	return p, ok
}

// Errors returns the accumulated non-fatal registration diagnostics, or
// nil if none were recorded.
func (r *PointRegistry) Errors() error {
	return r.diag.Err()
}
