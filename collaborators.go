package bincore

// Instruction is an opaque reference to a decoded machine instruction at a
// known source address with known byte length. The core treats it as
// immutable and borrows it from the Disassembler collaborator for the
// duration of the rewrite; it may never mutate one.
type Instruction struct {
	Addr              Address
	Length            int
	Kind              InstructionKind
	PCRelativeTargets []Address
}

// End returns the address immediately past this instruction's bytes.
func (in Instruction) End() Address {
	return in.Addr + Address(in.Length)
}

// InstructionKind classifies an instruction: whether it reads/writes
// flags and whether it is itself a control-transfer. The core carries
// these fields but does not read them: Light flags protection always
// saves the full flag set (see DESIGN.md), and branch-target safety is
// checked against ImageModel.BranchTargets.
type InstructionKind struct {
	IsControlTransfer bool
	ClobbersFlags     bool
}

// Disassembler is the external collaborator that decodes and (re-)encodes
// machine instructions. The core never decodes bytes itself; it asks the
// disassembler for handles and for freshly encoded bytes when relocating
// an instruction whose PC-relative operand must be rewritten.
type Disassembler interface {
	Decode(addr Address) (Instruction, error)
	// Encode re-emits inst's bytes, rewriting any PC-relative operand so
	// it continues to address the same absolute target once the
	// instruction is relocated to newAddr.
	Encode(inst Instruction, newAddr Address) ([]byte, error)
	// EncodeJumpNear returns the Size__uncond_jump (5-byte) unconditional
	// near jump from `from` to `to`.
	EncodeJumpNear(from, to Address) ([]byte, error)
}

// ImageModel exposes the parsed executable's sections, symbols, and PLT
// base, without exposing ELF structures to the core.
type ImageModel interface {
	WordSize() WordSize
	// ExecRanges returns the address ranges belonging to the executable
	// segment; every point's source instruction must fall in one of them.
	ExecRanges() []AddrRange
	// BranchTargets returns every address that is the target of a direct
	// branch in the original .text, so overwrite regions can be checked
	// for branch-target safety.
	BranchTargets() map[Address]bool
	// SymbolAddress resolves a statically-linked symbol by name; ok is
	// false if the symbol is not statically resolvable and must go
	// through the dynamic loader at runtime instead.
	SymbolAddress(name string) (addr Address, ok bool)
	// RealPLTBase is the address of the image's own dynamic-symbol
	// resolver entry point: called with a name pointer in the platform's
	// first integer argument register (or, on 32-bit, pushed on the
	// stack) and returning the resolved address, the same contract a
	// real PLT's lazy-binding stub uses internally. FunctionCall's
	// bootstrap calls through it when a callee is not statically linked.
	RealPLTBase() Address
	// ArenaBase is the address at which the rewriter may start placing
	// newly appended code and data — the base of whatever section the
	// ELF-writing collaborator is reserving for the core's output.
	ArenaBase() Address
}

// OutputFile is an append-only sink for the rewritten image's bytes.
type OutputFile interface {
	WriteBytes(offset int64, buffer []byte) error
}
