package bincore

import (
	"sort"

	"github.com/google/uuid"
)

// Layout assigns final addresses to every trampoline, payload region,
// and procedure-link stub, and computes the relocation bytes Emitter
// later writes. It runs once, after the registry is frozen, as five
// ordered passes: size tally, trampoline placement, payload placement,
// relocation computation, and phase-2 encode.
type Layout struct {
	ctx      *Context
	registry *PointRegistry

	trampolineArena *TrampolineArena
	snippetArena    *TrampolineArena
	wrapperArena    *TrampolineArena
	bootstrapArena  *TrampolineArena
	procLinkArena   *TrampolineArena
	dataArena       *TrampolineArena

	trampolines  map[uuid.UUID]*Trampoline // keyed by InstrumentationPoint.ID
	payloadsSeen map[uuid.UUID]bool

	patches map[Address][]byte // final bytes to write at each overwritten source address

	ran bool
}

// NewLayout returns a Layout bound to ctx and the registry it will
// freeze and place.
func NewLayout(ctx *Context, registry *PointRegistry) *Layout {
	return &Layout{
		ctx:          ctx,
		registry:     registry,
		trampolines:  make(map[uuid.UUID]*Trampoline),
		payloadsSeen: make(map[uuid.UUID]bool),
		patches:      make(map[Address][]byte),
	}
}

// Run executes the five layout passes in order. It returns the first
// fatal error encountered; non-fatal registration rejections were
// already resolved when points were registered and do not surface
// here.
func (l *Layout) Run() error {
	if !l.registry.Frozen() {
		l.registry.Freeze()
	}

	passes := []struct {
		name string
		run  func() error
	}{
		{"buildChains", l.buildChains},
		{"placeTrampolines", l.placeTrampolines},
		{"placePayloads", l.placePayloads},
		{"computeRelocations", l.computeRelocations},
		{"encodeAll", l.encodeAll},
	}
	for _, pass := range passes {
		if err := pass.run(); err != nil {
			return err
		}
		if l.ctx.Log != nil {
			l.ctx.Log.WithField("pass", pass.name).Debug("layout pass complete")
		}
	}
	l.ran = true
	return nil
}

// buildChains is pass 1: for every source address, link that address's
// points (already priority-ordered by PointsAt) into a Trampoline
// chain and size each link with its phase-1 tally.
func (l *Layout) buildChains() error {
	for _, addr := range l.registry.Addresses() {
		points := l.registry.PointsAt(addr)
		chain := make([]*Trampoline, len(points))
		for i, p := range points {
			chain[i] = &Trampoline{point: p}
		}
		for i, t := range chain {
			if i == len(chain)-1 {
				t.last = true
			} else {
				t.next = chain[i+1]
			}
			size, err := t.phase1Size(l.ctx)
			if err != nil {
				return err
			}
			t.size = size
			l.trampolines[t.point.ID] = t
			t.point.trampoline = t
		}
	}
	return nil
}

// placeTrampolines is pass 2: assign every trampoline a contiguous
// region out of a single bump arena seeded at the image's arena base.
func (l *Layout) placeTrampolines() error {
	base := AlignToPage(l.ctx.Image.ArenaBase())
	l.trampolineArena = NewTrampolineArena(base, l.ctx.Config.TrampolineArenaIncrement)

	for _, addr := range l.registry.Addresses() {
		for _, p := range l.registry.PointsAt(addr) {
			t := l.trampolines[p.ID]
			t.addr = l.trampolineArena.Alloc(t.size)
		}
	}
	return nil
}

// placePayloads is pass 3: snippet bodies and data follow the
// trampoline arena directly; function-call wrappers, bootstraps,
// procedure links, and global data each get their own sub-arena,
// placed sequentially so none overlap regardless of how many function
// calls exist.
func (l *Layout) placePayloads() error {
	word := l.ctx.Image.WordSize()
	increment := l.ctx.Config.TrampolineArenaIncrement

	l.snippetArena = NewTrampolineArena(l.trampolineArena.End(), increment)

	var functionCalls []*FunctionCall
	for _, addr := range l.registry.Addresses() {
		for _, p := range l.registry.PointsAt(addr) {
			if l.payloadsSeen[p.Payload.ID()] {
				continue
			}
			l.payloadsSeen[p.Payload.ID()] = true

			switch pl := p.Payload.(type) {
			case *Snippet:
				bodyAndData := pl.SizeNeeded(word)
				base := l.snippetArena.Alloc(bodyAndData)
				dataOff := bodyAndData - pl.dataSize()
				pl.setAddresses(word, base, base+Address(dataOff))
			case *FunctionCall:
				pl.resolveLinkage(l.ctx.Image)
				functionCalls = append(functionCalls, pl)
			}
		}
	}

	l.wrapperArena = NewTrampolineArena(nextAligned(l.snippetArena.End(), 16), increment)
	wrapperAddrs := make([]Address, len(functionCalls))
	for i, fc := range functionCalls {
		wrapperAddrs[i] = l.wrapperArena.AllocAligned(reserveWrapper(word, len(fc.Arguments)), 16)
	}

	l.bootstrapArena = NewTrampolineArena(l.wrapperArena.End(), increment)
	bootstrapAddrs := make([]Address, len(functionCalls))
	for i := range functionCalls {
		bootstrapAddrs[i] = l.bootstrapArena.Alloc(reserveBootstrap)
	}

	l.procLinkArena = NewTrampolineArena(l.bootstrapArena.End(), increment)
	procLinkAddrs := make([]Address, len(functionCalls))
	for i := range functionCalls {
		procLinkAddrs[i] = l.procLinkArena.Alloc(reserveProcLink)
	}

	l.dataArena = NewTrampolineArena(l.procLinkArena.End(), increment)
	for i, fc := range functionCalls {
		_, _, _, _, dataTotal := fc.globalDataLayout(word)
		dataAddr := l.dataArena.Alloc(dataTotal)
		fc.setAddresses(bootstrapAddrs[i], procLinkAddrs[i], wrapperAddrs[i], dataAddr)
	}
	return nil
}

// computeRelocations is pass 4: compute each point's replacement bytes
// at its source address, and fix the absolute continuation targets
// snippets need before phase-2 encode. A snippet payload shared by
// several points must resolve to a single continuation address; a
// conflicting second assignment is reported as VerifyFailed rather than
// silently overwritten.
func (l *Layout) computeRelocations() error {
	for _, addr := range l.registry.Addresses() {
		points := l.registry.PointsAt(addr)
		first := l.trampolines[points[0].ID]

		disp, err := relDisp32(addr, first.addr, SizeUncondJump)
		if err != nil {
			return err
		}
		e := NewEncoder(l.ctx.Image.WordSize())
		e.JmpRel32(disp)
		patch := e.Bytes()
		for len(patch) < points[0].numberOfBytes {
			patch = append(patch, 0x90) // nop padding to fill the overwrite region exactly
		}
		l.patches[addr] = patch

		for _, p := range points {
			t := l.trampolines[p.ID]
			snip, ok := p.Payload.(*Snippet)
			if !ok {
				continue
			}
			off, err := t.continuationOffset(l.ctx)
			if err != nil {
				return err
			}
			continuation := t.addr + Address(off)
			if snip.returnAddr != 0 && snip.returnAddr != continuation {
				return newFatalError(VerifyFailed, p.Source.Addr,
					"snippet payload is shared across points whose trampolines need different continuation addresses")
			}
			snip.setReturnTarget(continuation)
		}
	}
	return nil
}

// encodeAll is pass 5: re-emit every trampoline and payload region now
// that every address is fixed.
func (l *Layout) encodeAll() error {
	word := l.ctx.Image.WordSize()
	encodedPayloads := make(map[uuid.UUID]bool)

	for _, addr := range l.registry.Addresses() {
		for _, p := range l.registry.PointsAt(addr) {
			t := l.trampolines[p.ID]
			bytes, err := t.encode(l.ctx)
			if err != nil {
				return err
			}
			t.encoded = bytes

			if encodedPayloads[p.Payload.ID()] {
				continue
			}
			encodedPayloads[p.Payload.ID()] = true

			switch pl := p.Payload.(type) {
			case *Snippet:
				enc, err := pl.encode(word)
				if err != nil {
					return err
				}
				pl.encoded = enc
			case *FunctionCall:
				wrapper, err := pl.generateWrapper(word, pl.wrapperAddr)
				if err != nil {
					return err
				}
				procLink, err := pl.generateProcedureLink(word, pl.procLinkAddr)
				if err != nil {
					return err
				}
				bootstrap, err := pl.generateBootstrap(l.ctx, word, pl.bootstrapAddr)
				if err != nil {
					return err
				}
				pl.encodedWrapper = wrapper
				pl.encodedProcLink = procLink
				pl.encodedBootstrap = bootstrap
				pl.encodedData = pl.generateGlobalData(word)
			}
		}
	}
	return nil
}

// Verify runs the post-layout consistency checks: every trampoline's
// phase-2 length matches its phase-1 tally (byte conservation), no two
// output regions overlap, and every chain link but the last points at
// its declared successor.
func (l *Layout) Verify() error {
	if !l.ran {
		return newFatalError(VerifyFailed, 0, "Verify called before Run")
	}

	var ranges []AddrRange
	record := func(start Address, size int) error {
		r := AddrRange{Start: start, End: start + Address(size)}
		for _, other := range ranges {
			if r.Start < other.End && other.Start < r.End {
				return newFatalError(VerifyFailed, start, "output regions %s and %s overlap", r, other)
			}
		}
		ranges = append(ranges, r)
		return nil
	}

	for _, addr := range l.registry.Addresses() {
		points := l.registry.PointsAt(addr)
		for i, p := range points {
			t := l.trampolines[p.ID]
			if len(t.encoded) != t.size {
				return newFatalError(VerifyFailed, addr,
					"trampoline at priority %s encoded to %d bytes, phase-1 tally reserved %d", p.Priority, len(t.encoded), t.size)
			}
			if err := record(t.addr, len(t.encoded)); err != nil {
				return err
			}
			if i > 0 {
				prev := l.trampolines[points[i-1].ID]
				if prev.next != t {
					return newFatalError(VerifyFailed, addr, "trampoline chain broken at priority %s", p.Priority)
				}
			}
		}
	}

	for _, pl := range l.sortedPayloads() {
		switch p := pl.(type) {
		case *Snippet:
			if err := record(p.bootstrapAddr, len(p.encoded)); err != nil {
				return err
			}
		case *FunctionCall:
			starts := []Address{p.wrapperAddr, p.bootstrapAddr, p.procLinkAddr, p.dataBaseAddr}
			bodies := [][]byte{p.encodedWrapper, p.encodedBootstrap, p.encodedProcLink, p.encodedData}
			for i := range starts {
				if err := record(starts[i], len(bodies[i])); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// PatchFor returns the final bytes an address's overwrite region must
// hold, computed during the relocation pass.
func (l *Layout) PatchFor(addr Address) ([]byte, bool) {
	b, ok := l.patches[addr]
	return b, ok
}

// TrampolineArenaRange returns the trampoline arena's occupied span.
func (l *Layout) TrampolineArenaRange() AddrRange {
	return AddrRange{Start: l.trampolineArena.base, End: l.trampolineArena.End()}
}

// PayloadArenaRanges returns the occupied span of each payload
// sub-arena, in a fixed, deterministic order.
func (l *Layout) PayloadArenaRanges() []AddrRange {
	return []AddrRange{
		{Start: l.snippetArena.base, End: l.snippetArena.End()},
		{Start: l.wrapperArena.base, End: l.wrapperArena.End()},
		{Start: l.bootstrapArena.base, End: l.bootstrapArena.End()},
		{Start: l.procLinkArena.base, End: l.procLinkArena.End()},
		{Start: l.dataArena.base, End: l.dataArena.End()},
	}
}

// sortedTrampolines returns every trampoline in ascending address
// order, for Emitter's single walk over the trampoline arena.
func (l *Layout) sortedTrampolines() []*Trampoline {
	out := make([]*Trampoline, 0, len(l.trampolines))
	for _, t := range l.trampolines {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].addr < out[j].addr })
	return out
}

// sortedPayloads returns the distinct Snippet and FunctionCall payloads
// Layout placed, each exactly once, in ascending entry-point order, for
// Emitter's walk over the payload sub-arenas.
func (l *Layout) sortedPayloads() []Payload {
	seen := make(map[uuid.UUID]Payload, len(l.payloadsSeen))
	for _, addr := range l.registry.Addresses() {
		for _, p := range l.registry.PointsAt(addr) {
			if _, ok := seen[p.Payload.ID()]; !ok {
				seen[p.Payload.ID()] = p.Payload
			}
		}
	}
	out := make([]Payload, 0, len(seen))
	for _, pl := range seen {
		out = append(out, pl)
	}
	sort.Slice(out, func(i, j int) bool {
		ei, _ := out[i].EntryPoint()
		ej, _ := out[j].EntryPoint()
		return ei < ej
	})
	return out
}
