// Package instrumenttest provides in-memory test doubles for the
// collaborator interfaces bincore consumes — Disassembler, ImageModel,
// and OutputFile — so the layout and emit passes can be exercised
// without a real ELF image or x86 decoder.
package instrumenttest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xyproto/bincore"
)

// FakeDisassembler is a Disassembler backed by instructions registered
// up front with AddInstruction. It never rewrites PC-relative operands
// on re-encode; callers that need relocation-sensitive behavior should
// register instructions whose encoded form is position-independent.
type FakeDisassembler struct {
	mu    sync.Mutex
	insts map[bincore.Address]bincore.Instruction
	bytes map[bincore.Address][]byte
}

// NewFakeDisassembler returns an empty disassembler fixture.
func NewFakeDisassembler() *FakeDisassembler {
	return &FakeDisassembler{
		insts: make(map[bincore.Address]bincore.Instruction),
		bytes: make(map[bincore.Address][]byte),
	}
}

// AddInstruction registers a decoded instruction at addr with the
// given raw bytes and classification.
func (d *FakeDisassembler) AddInstruction(addr bincore.Address, raw []byte, kind bincore.InstructionKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.insts[addr] = bincore.Instruction{
		Addr:   addr,
		Length: len(raw),
		Kind:   kind,
	}
	cp := append([]byte(nil), raw...)
	d.bytes[addr] = cp
}

func (d *FakeDisassembler) Decode(addr bincore.Address) (bincore.Instruction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	inst, ok := d.insts[addr]
	if !ok {
		return bincore.Instruction{}, fmt.Errorf("instrumenttest: no instruction registered at 0x%x", uint64(addr))
	}
	return inst, nil
}

func (d *FakeDisassembler) Encode(inst bincore.Instruction, newAddr bincore.Address) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, ok := d.bytes[inst.Addr]
	if !ok {
		return nil, fmt.Errorf("instrumenttest: no bytes registered for instruction at 0x%x", uint64(inst.Addr))
	}
	return append([]byte(nil), raw...), nil
}

func (d *FakeDisassembler) EncodeJumpNear(from, to bincore.Address) ([]byte, error) {
	delta := int64(to) - int64(from) - 5
	disp := int32(delta)
	out := []byte{0xE9, byte(disp), byte(disp >> 8), byte(disp >> 16), byte(disp >> 24)}
	return out, nil
}

// FakeImage is an ImageModel fixture with directly settable fields.
type FakeImage struct {
	Word     bincore.WordSize
	Exec     []bincore.AddrRange
	Branches map[bincore.Address]bool
	Symbols  map[string]bincore.Address
	PLTBase  bincore.Address
	Base     bincore.Address
}

// NewFakeImage returns a FakeImage with empty collections, ready for
// the caller to populate.
func NewFakeImage(word bincore.WordSize, arenaBase bincore.Address) *FakeImage {
	return &FakeImage{
		Word:     word,
		Branches: make(map[bincore.Address]bool),
		Symbols:  make(map[string]bincore.Address),
		Base:     arenaBase,
	}
}

func (f *FakeImage) WordSize() bincore.WordSize             { return f.Word }
func (f *FakeImage) ExecRanges() []bincore.AddrRange        { return f.Exec }
func (f *FakeImage) BranchTargets() map[bincore.Address]bool { return f.Branches }

func (f *FakeImage) SymbolAddress(name string) (bincore.Address, bool) {
	a, ok := f.Symbols[name]
	return a, ok
}

func (f *FakeImage) RealPLTBase() bincore.Address { return f.PLTBase }
func (f *FakeImage) ArenaBase() bincore.Address   { return f.Base }

// FakeOutput is an OutputFile fixture that records every write so
// tests can assert on the bytes landing at a given offset.
type FakeOutput struct {
	mu     sync.Mutex
	writes map[int64][]byte
}

// NewFakeOutput returns an empty output fixture.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{writes: make(map[int64][]byte)}
}

func (o *FakeOutput) WriteBytes(offset int64, buf []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := append([]byte(nil), buf...)
	o.writes[offset] = cp
	return nil
}

// At returns the bytes written at exactly offset, or nil if nothing
// was written there.
func (o *FakeOutput) At(offset int64) []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writes[offset]
}

// Offsets returns every offset written to, ascending.
func (o *FakeOutput) Offsets() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]int64, 0, len(o.writes))
	for off := range o.writes {
		out = append(out, off)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IdentityOffset is a fileOffset function for Emitter.Emit suitable
// when the test's virtual addresses already coincide with file
// offsets.
func IdentityOffset(addr bincore.Address) int64 { return int64(addr) }
