package bincore

import "bytes"

// Encoder emits x86 machine code into an in-memory buffer for a fixed
// pointer width. It is the core's own minimal instruction emitter for
// the small, fixed repertoire trampolines and wrappers need — it is not
// a general-purpose assembler; arbitrary payload-body instructions are
// encoded by the Disassembler collaborator instead.
type Encoder struct {
	word WordSize
	buf  bytes.Buffer
}

// NewEncoder returns an empty encoder for the given pointer width.
func NewEncoder(word WordSize) *Encoder {
	return &Encoder{word: word}
}

// Bytes returns the bytes emitted so far.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

// Len returns the number of bytes emitted so far.
func (e *Encoder) Len() int { return e.buf.Len() }

func (e *Encoder) write(b ...byte) { e.buf.Write(b) }

func (e *Encoder) writeImm32(v int32) {
	e.buf.WriteByte(byte(v))
	e.buf.WriteByte(byte(v >> 8))
	e.buf.WriteByte(byte(v >> 16))
	e.buf.WriteByte(byte(v >> 24))
}

func (e *Encoder) writeImm64(v uint64) {
	for i := 0; i < 8; i++ {
		e.buf.WriteByte(byte(v >> (8 * uint(i))))
	}
}

// rex builds a REX prefix (64-bit mode only). w requests REX.W (64-bit
// operand size); r/x/b are the high bits of reg/index/rm encodings.
func rex(w bool, r, x, b uint8) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r&8 != 0 {
		v |= 0x04
	}
	if x&8 != 0 {
		v |= 0x02
	}
	if b&8 != 0 {
		v |= 0x01
	}
	return v
}

// MovRegImm emits `mov dst, imm`: a 32-bit immediate on a 32-bit image,
// a full 64-bit immediate (REX.W + B8+r) on a 64-bit image — used to
// materialize the address of a data cell an Argument refers to, and the
// wrapper's global-data base when resolving a callee.
func (e *Encoder) MovRegImm(dst string, imm uint64) {
	r, _ := GetRegister(e.word, dst)
	if e.word == Word64 {
		e.write(rex(true, 0, 0, r.Encoding))
		e.write(0xB8 + (r.Encoding & 7))
		e.writeImm64(imm)
		return
	}
	e.write(0xB8 + (r.Encoding & 7))
	e.writeImm32(int32(uint32(imm)))
}

// MovRegMem emits `mov dst, [base+disp]` — used to load an Argument's
// value from its data cell into an ABI argument register.
func (e *Encoder) MovRegMem(dst, base string, disp int32) {
	dstReg, _ := GetRegister(e.word, dst)
	baseReg, _ := GetRegister(e.word, base)
	if e.word == Word64 {
		e.write(rex(true, dstReg.Encoding, 0, baseReg.Encoding))
	}
	e.write(0x8B)
	e.writeModRMDisp(dstReg.Encoding, baseReg.Encoding, disp)
}

// MovMemReg emits `mov [base+disp], src` — used to store a resolved
// callee address into its global-data slot.
func (e *Encoder) MovMemReg(base string, disp int32, src string) {
	baseReg, _ := GetRegister(e.word, base)
	srcReg, _ := GetRegister(e.word, src)
	if e.word == Word64 {
		e.write(rex(true, srcReg.Encoding, 0, baseReg.Encoding))
	}
	e.write(0x89)
	e.writeModRMDisp(srcReg.Encoding, baseReg.Encoding, disp)
}

// writeModRMDisp writes the ModR/M (+ SIB if base is rsp/r12, + 0/8/32
// bit displacement) for reg-to-[base+disp] forms.
func (e *Encoder) writeModRMDisp(regEnc, baseEnc uint8, disp int32) {
	baseLow := baseEnc & 7
	switch {
	case disp == 0 && baseLow != 5:
		e.write(0x00 | (regEnc&7)<<3 | baseLow)
		if baseLow == 4 {
			e.write(0x24)
		}
	case disp >= -128 && disp <= 127:
		e.write(0x40 | (regEnc&7)<<3 | baseLow)
		if baseLow == 4 {
			e.write(0x24)
		}
		e.write(byte(int8(disp)))
	default:
		e.write(0x80 | (regEnc&7)<<3 | baseLow)
		if baseLow == 4 {
			e.write(0x24)
		}
		e.writeImm32(disp)
	}
}
