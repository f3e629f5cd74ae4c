package bincore

// JmpRel32 emits a 5-byte unconditional near jump (E9 rel32), matching
// SizeUncondJump. disp is relative to the address immediately
// following this instruction.
func (e *Encoder) JmpRel32(disp int32) {
	e.write(0xE9)
	e.writeImm32(disp)
}

// CallRel32 emits a 5-byte near call (E8 rel32), used by the trampoline
// to reach a FunctionCall payload's wrapper entry.
func (e *Encoder) CallRel32(disp int32) {
	e.write(0xE8)
	e.writeImm32(disp)
}

// JmpIndirectMem emits `jmp [rip+disp]` (64-bit) or `jmp [disp]`
// (32-bit, absolute) — an indirect jump through a pointer slot, used by
// the procedure-link stub to jump through the resolved-entry GOT-style
// slot.
func (e *Encoder) JmpIndirectMem(disp int32) {
	e.write(0xFF)
	e.write(0x25)
	e.writeImm32(disp)
}

// Ret emits a near return, used by a wrapper to hand control back to
// the trampoline that reached it with a near-call.
func (e *Encoder) Ret() {
	e.write(0xC3)
}

// relDisp32 computes the signed displacement a near jump/call at `from`
// (the jump's own start address) needs to reach `to`, given the jump's
// total instruction length (5 for JmpRel32/CallRel32).
func relDisp32(from, to Address, instrLen int) (int32, error) {
	delta := int64(to) - int64(from) - int64(instrLen)
	if delta > int64(int32max) || delta < int64(int32min) {
		return 0, newFatalError(TrampolineTooFar, from,
			"displacement to 0x%x exceeds near-jump range (%d bytes)", uint64(to), delta)
	}
	return int32(delta), nil
}

const (
	int32max = 1<<31 - 1
	int32min = -(1 << 31)
)
