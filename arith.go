package bincore

// AddRegImm8 emits `add dst, imm8` (sign-extended), used to pop cdecl
// arguments off the stack after a call.
func (e *Encoder) AddRegImm8(dst string, imm8 int8) {
	r, _ := GetRegister(e.word, dst)
	if e.word == Word64 {
		e.write(rex(true, 0, 0, r.Encoding))
	}
	e.write(0x83, 0xC0|(r.Encoding&7), byte(imm8))
}

// AddRegImm32 emits `add dst, imm32`.
func (e *Encoder) AddRegImm32(dst string, imm int32) {
	r, _ := GetRegister(e.word, dst)
	if e.word == Word64 {
		e.write(rex(true, 0, 0, r.Encoding))
	}
	e.write(0x81, 0xC0|(r.Encoding&7))
	e.writeImm32(imm)
}

// SubRegImm32 emits `sub dst, imm32`, used to open XMM save space on the
// stack before a wrapper's movaps sequence.
func (e *Encoder) SubRegImm32(dst string, imm int32) {
	r, _ := GetRegister(e.word, dst)
	if e.word == Word64 {
		e.write(rex(true, 0, 0, r.Encoding))
	}
	e.write(0x81, 0xE8|(r.Encoding&7))
	e.writeImm32(imm)
}
