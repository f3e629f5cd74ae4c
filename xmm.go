package bincore

// MovapsStore emits `movaps [base+disp], src` (0F 29 /r) — XMM has no
// push/pop, so the wrapper opens stack space with SubRegImm32 and saves
// each caller-saved XMM register this way.
func (e *Encoder) MovapsStore(base string, disp int32, src string) {
	baseReg, _ := GetRegister(e.word, base)
	srcReg, _ := GetRegister(e.word, src)
	if e.word == Word64 && (srcReg.Encoding >= 8 || baseReg.Encoding >= 8) {
		e.write(rex(false, srcReg.Encoding, 0, baseReg.Encoding))
	}
	e.write(0x0F, 0x29)
	e.writeModRMDisp(srcReg.Encoding, baseReg.Encoding, disp)
}

// MovapsLoad emits `movaps dst, [base+disp]` (0F 28 /r).
func (e *Encoder) MovapsLoad(dst string, base string, disp int32) {
	baseReg, _ := GetRegister(e.word, base)
	dstReg, _ := GetRegister(e.word, dst)
	if e.word == Word64 && (dstReg.Encoding >= 8 || baseReg.Encoding >= 8) {
		e.write(rex(false, dstReg.Encoding, 0, baseReg.Encoding))
	}
	e.write(0x0F, 0x28)
	e.writeModRMDisp(dstReg.Encoding, baseReg.Encoding, disp)
}
