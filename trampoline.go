package bincore

// Trampoline is the short stub that bridges a source instruction to a
// payload entry: flags save, precursor, payload call, postcursor,
// flags restore, any relocated original bytes, and a return jump. When
// several points share a source address their trampolines chain —
// every trampoline but the chain's last ends with a jump to the next
// one instead of the relocated bytes and return jump.
type Trampoline struct {
	point *InstrumentationPoint

	addr Address
	size int

	next *Trampoline // nil for the chain's last trampoline
	last bool

	// encoded holds the phase-2 output once Layout's encode pass has run.
	encoded []byte
}

// phase1Size computes the trampoline's byte length using placeholder
// (zero) displacements — everything but a near-jump/near-call's
// displacement field is size-stable, so this is exact.
func (t *Trampoline) phase1Size(ctx *Context) (int, error) {
	p := t.point
	word := ctx.Image.WordSize()

	save, restore, err := FlagsProtectBytes(p.Flags, word)
	if err != nil {
		return 0, err
	}
	size := len(save) + len(restore)

	for _, b := range p.precursor {
		size += len(b)
	}
	for _, b := range p.postcursor {
		size += len(b)
	}

	switch p.Payload.Kind() {
	case KindFunctionCall:
		size += SizeUncondJump // near-call, same fixed width as a near-jump
	case KindSnippet:
		size += SizeUncondJump // near-jump into the snippet's own tail-return design
	}

	if t.last {
		relocated, err := t.relocatedBytesLen(ctx)
		if err != nil {
			return 0, err
		}
		size += relocated
		size += SizeUncondJump // return jump
	} else {
		size += SizeUncondJump // jump to next trampoline in the chain
	}
	return size, nil
}

// continuationOffset returns the byte offset, from t.addr, of the
// instruction immediately after the jump/call into the payload — the
// address a Snippet's own tail branch must target, since an
// unconditional jump (unlike a call) pushes no return address. Every
// component up to and including that jump has a size fixed at phase 1,
// so this is known before phase-2 encoding runs.
func (t *Trampoline) continuationOffset(ctx *Context) (int, error) {
	p := t.point
	save, _, err := FlagsProtectBytes(p.Flags, ctx.Image.WordSize())
	if err != nil {
		return 0, err
	}
	off := len(save)
	for _, b := range p.precursor {
		off += len(b)
	}
	off += SizeUncondJump
	return off, nil
}

// relocatedBytesLen decodes the original instructions inside the
// point's overwrite region, just to total their length — phase-2
// encode does the actual re-emission once displacement targets exist.
func (t *Trampoline) relocatedBytesLen(ctx *Context) (int, error) {
	p := t.point
	addr := p.Source.Addr
	end := p.Source.Addr + Address(p.numberOfBytes)
	total := 0
	for addr < end {
		inst, err := ctx.Disassembler.Decode(addr)
		if err != nil {
			return 0, newFatalError(VerifyFailed, p.Source.Addr, "failed to decode relocated instruction: %v", err)
		}
		total += inst.Length
		addr += Address(inst.Length)
	}
	return total, nil
}

// encode is the phase-2 re-encode, run once t.addr, t.point's payload
// entry, and (for the chain's last trampoline) the return address are
// all known.
func (t *Trampoline) encode(ctx *Context) ([]byte, error) {
	p := t.point
	word := ctx.Image.WordSize()

	save, restore, err := FlagsProtectBytes(p.Flags, word)
	if err != nil {
		return nil, err
	}

	var out []byte
	out = append(out, save...)
	for _, b := range p.precursor {
		out = append(out, b...)
	}

	entry, err := p.Payload.EntryPoint()
	if err != nil {
		return nil, err
	}
	callSiteAddr := t.addr + Address(len(out))
	disp, err := relDisp32(callSiteAddr, entry, SizeUncondJump)
	if err != nil {
		return nil, err
	}
	e := NewEncoder(word)
	switch p.Payload.Kind() {
	case KindFunctionCall:
		e.CallRel32(disp)
	case KindSnippet:
		e.JmpRel32(disp)
	}
	out = append(out, e.Bytes()...)

	for _, b := range p.postcursor {
		out = append(out, b...)
	}
	out = append(out, restore...)

	if t.last {
		relocated, err := t.encodeRelocated(ctx, t.addr+Address(len(out)))
		if err != nil {
			return nil, err
		}
		out = append(out, relocated...)

		tailAddr := t.addr + Address(len(out))
		returnAddr := p.Source.Addr + Address(p.numberOfBytes)
		tailDisp, err := relDisp32(tailAddr, returnAddr, SizeUncondJump)
		if err != nil {
			return nil, err
		}
		tailEnc := NewEncoder(word)
		tailEnc.JmpRel32(tailDisp)
		out = append(out, tailEnc.Bytes()...)
	} else {
		tailAddr := t.addr + Address(len(out))
		tailDisp, err := relDisp32(tailAddr, t.next.addr, SizeUncondJump)
		if err != nil {
			return nil, err
		}
		tailEnc := NewEncoder(word)
		tailEnc.JmpRel32(tailDisp)
		out = append(out, tailEnc.Bytes()...)
	}
	return out, nil
}

// encodeRelocated re-emits, at their new home starting at newBase, every
// original instruction inside the point's overwrite region, rewriting
// PC-relative operands through the Disassembler collaborator.
func (t *Trampoline) encodeRelocated(ctx *Context, newBase Address) ([]byte, error) {
	p := t.point
	addr := p.Source.Addr
	end := p.Source.Addr + Address(p.numberOfBytes)

	var out []byte
	cursor := newBase
	for addr < end {
		inst, err := ctx.Disassembler.Decode(addr)
		if err != nil {
			return nil, newFatalError(VerifyFailed, p.Source.Addr, "failed to decode relocated instruction: %v", err)
		}
		bytes, err := ctx.Disassembler.Encode(inst, cursor)
		if err != nil {
			return nil, newFatalError(VerifyFailed, p.Source.Addr, "failed to re-encode relocated instruction at 0x%x: %v", uint64(addr), err)
		}
		out = append(out, bytes...)
		cursor += Address(len(bytes))
		addr += Address(inst.Length)
	}
	return out, nil
}
