package bincore

import "github.com/google/uuid"

// InstrumentationPoint binds a Payload to a source Instruction.
type InstrumentationPoint struct {
	ID uuid.UUID

	Source   Instruction
	Payload  Payload
	Location Location
	Flags    FlagsProtectionMode
	Mode     InstrumentationMode
	Priority Priority

	precursor  [][]byte
	postcursor [][]byte

	// numberOfBytes is computed by PointRegistry.Register (or reused from
	// the first point registered at the same address); zero until then.
	numberOfBytes int

	// trampoline is populated by Layout; nil before it runs.
	trampoline *Trampoline

	frozen bool
}

// NewPoint constructs a point bound to payload p at source instruction
// src, not yet registered with any PointRegistry.
func NewPoint(src Instruction, p Payload, loc Location, flags FlagsProtectionMode, mode InstrumentationMode, prio Priority) *InstrumentationPoint {
	return &InstrumentationPoint{
		ID:       newID(),
		Source:   src,
		Payload:  p,
		Location: loc,
		Flags:    flags,
		Mode:     mode,
		Priority: prio,
	}
}

// AddPrecursor appends a verbatim instruction to run before the payload
// call. Fails once the point is frozen.
func (p *InstrumentationPoint) AddPrecursor(bytes []byte) error {
	if p.frozen {
		return newRejectError(RegistryFrozen, p.Source.Addr, "cannot add precursor to frozen point")
	}
	p.precursor = append(p.precursor, bytes)
	return nil
}

// AddPostcursor appends a verbatim instruction to run after the payload
// call. Fails once the point is frozen.
func (p *InstrumentationPoint) AddPostcursor(bytes []byte) error {
	if p.frozen {
		return newRejectError(RegistryFrozen, p.Source.Addr, "cannot add postcursor to frozen point")
	}
	p.postcursor = append(p.postcursor, bytes)
	return nil
}

// SetPriority changes the point's priority. Fails once frozen.
func (p *InstrumentationPoint) SetPriority(prio Priority) error {
	if p.frozen {
		return newRejectError(RegistryFrozen, p.Source.Addr, "cannot change priority of frozen point")
	}
	p.Priority = prio
	return nil
}

// NumberOfBytes returns how many bytes of original .text this point's
// trampoline overwrites. Valid only after the point has been registered.
func (p *InstrumentationPoint) NumberOfBytes() int { return p.numberOfBytes }

// Trampoline returns the point's trampoline. Valid only after Layout.
func (p *InstrumentationPoint) Trampoline() *Trampoline { return p.trampoline }

// overwriteRange returns the source-address range this point will
// overwrite once numberOfBytes is known.
func (p *InstrumentationPoint) overwriteRange() AddrRange {
	return AddrRange{Start: p.Source.Addr, End: p.Source.Addr + Address(p.numberOfBytes)}
}
