package bincore

// generateProcedureLink emits the PLT-style stub a wrapper calls
// through: a direct near-jump to the callee when it resolved statically,
// or an indirect jump through the global-data resolved-entry slot when
// it did not.
func (f *FunctionCall) generateProcedureLink(word WordSize, selfAddr Address) ([]byte, error) {
	e := NewEncoder(word)
	if f.static {
		disp, err := relDisp32(selfAddr, f.staticTarget, SizeUncondJump)
		if err != nil {
			return nil, err
		}
		e.JmpRel32(disp)
	} else {
		resolvedOff, _, _ := f.argOffsets(word)
		resolvedAddr := f.dataBaseAddr + Address(resolvedOff)
		const instrLen = 6 // FF 25 + imm32
		var disp int32
		if word == Word64 {
			disp = int32(int64(resolvedAddr) - int64(selfAddr+Address(instrLen)))
		} else {
			disp = int32(uint32(resolvedAddr))
		}
		e.JmpIndirectMem(disp)
	}
	if e.Len() > reserveProcLink {
		return nil, newFatalError(PayloadSizeExceedsReserve, selfAddr,
			"procedure link for %s needs %d bytes, reserve is %d", f.TargetName, e.Len(), reserveProcLink)
	}
	return e.Bytes(), nil
}

// generateBootstrap emits the symbol-resolution preamble reached the
// first time the procedure link's indirect jump targets it. It resolves
// the callee through the image's resolver entry point (ImageModel's
// RealPLTBase, modeled here as a callable taking a name pointer and
// returning the resolved address — see DESIGN.md), patches the
// resolved-entry slot, and tail-jumps to the procedure link so the call
// actually reaches the callee on this first invocation too. The
// resolution work itself runs behind a dispatch-once gate so two host
// threads racing through an unresolved slot cannot both attempt it.
func (f *FunctionCall) generateBootstrap(ctx *Context, word WordSize, selfAddr Address) ([]byte, error) {
	if f.static {
		// Nothing to resolve: the procedure link already jumps direct
		// and the resolved-entry slot is never read. This region stays
		// reserved for layout uniformity but is otherwise unreachable.
		e := NewEncoder(word)
		disp, err := relDisp32(selfAddr, f.procLinkAddr, SizeUncondJump)
		if err != nil {
			return nil, err
		}
		e.JmpRel32(disp)
		return e.Bytes(), nil
	}

	resolvedOff, sentinelOff, _ := f.argOffsets(word)
	nameAddr := f.dataBaseAddr
	resolvedAddr := f.dataBaseAddr + Address(resolvedOff)
	sentinelAddr := f.dataBaseAddr + Address(sentinelOff)

	prefixLen := onceGuardPrefixSize(word)
	initAddr := selfAddr + Address(prefixLen)

	init := NewEncoder(word)
	resolver := ctx.Image.RealPLTBase()
	if word == Word64 {
		init.MovRegImm("rdi", uint64(nameAddr))
		callSite := initAddr + Address(init.Len())
		disp, err := relDisp32(callSite, resolver, SizeUncondJump)
		if err != nil {
			return nil, err
		}
		init.CallRel32(disp)
		init.MovRegImm("r11", uint64(resolvedAddr))
		init.MovMemReg("r11", 0, "rax")
	} else {
		init.MovRegImm("eax", uint64(nameAddr))
		init.PushReg("eax")
		callSite := initAddr + Address(init.Len())
		disp, err := relDisp32(callSite, resolver, SizeUncondJump)
		if err != nil {
			return nil, err
		}
		init.CallRel32(disp)
		init.AddRegImm8("esp", 4)
		init.MovRegImm("edx", uint64(resolvedAddr))
		init.MovMemReg("edx", 0, "eax")
	}

	guard := generateOnceGuard(word, sentinelAddr, init.Bytes())

	tail := NewEncoder(word)
	tailAddr := selfAddr + Address(len(guard))
	disp, err := relDisp32(tailAddr, f.procLinkAddr, SizeUncondJump)
	if err != nil {
		return nil, err
	}
	tail.JmpRel32(disp)

	out := append(guard, tail.Bytes()...)
	if len(out) > reserveBootstrap {
		return nil, newFatalError(PayloadSizeExceedsReserve, selfAddr,
			"bootstrap for %s needs %d bytes, reserve is %d", f.TargetName, len(out), reserveBootstrap)
	}
	return out, nil
}
