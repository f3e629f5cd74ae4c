package bincore

// LockCmpxchgMemReg8 emits `lock cmpxchg byte [base+disp], src`: compares
// AL against the byte at the memory operand and, on match, stores src
// and sets ZF; otherwise loads the memory byte into AL and clears ZF.
// This is the one atomic primitive the core's bootstrap dispatch-once
// gate relies on.
func (e *Encoder) LockCmpxchgMemReg8(base, src string, disp int32) {
	baseReg, _ := GetRegister(e.word, base)
	srcReg, _ := GetRegister(e.word, src)
	e.write(0xF0) // LOCK prefix
	if e.word == Word64 {
		e.write(rex(false, 0, 0, baseReg.Encoding))
	}
	e.write(0x0F, 0xB0)
	e.writeModRMDisp(srcReg.Encoding, baseReg.Encoding, disp)
}

// JneRel8 emits a short conditional jump taken when ZF is clear.
func (e *Encoder) JneRel8(disp int8) {
	e.write(0x75, byte(disp))
}
