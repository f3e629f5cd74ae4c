package bincore

import "fmt"

// Register describes one x86 register: the encoding the ModR/M and REX
// bytes need, and the register's bit width (determines which name a GP
// slot is addressed by at a given WordSize).
type Register struct {
	Name     string
	Bits     int
	Encoding uint8
}

// x86-64 general-purpose registers, by 64-bit name.
var gpr64 = map[string]Register{
	"rax": {Name: "rax", Bits: 64, Encoding: 0},
	"rcx": {Name: "rcx", Bits: 64, Encoding: 1},
	"rdx": {Name: "rdx", Bits: 64, Encoding: 2},
	"rbx": {Name: "rbx", Bits: 64, Encoding: 3},
	"rsp": {Name: "rsp", Bits: 64, Encoding: 4},
	"rbp": {Name: "rbp", Bits: 64, Encoding: 5},
	"rsi": {Name: "rsi", Bits: 64, Encoding: 6},
	"rdi": {Name: "rdi", Bits: 64, Encoding: 7},
	"r8":  {Name: "r8", Bits: 64, Encoding: 8},
	"r9":  {Name: "r9", Bits: 64, Encoding: 9},
	"r10": {Name: "r10", Bits: 64, Encoding: 10},
	"r11": {Name: "r11", Bits: 64, Encoding: 11},
	"r12": {Name: "r12", Bits: 64, Encoding: 12},
	"r13": {Name: "r13", Bits: 64, Encoding: 13},
	"r14": {Name: "r14", Bits: 64, Encoding: 14},
	"r15": {Name: "r15", Bits: 64, Encoding: 15},
}

// 32-bit general-purpose registers, looked up by GetRegister on 32-bit
// images only.
var gpr32 = map[string]Register{
	"eax": {Name: "eax", Bits: 32, Encoding: 0},
	"ecx": {Name: "ecx", Bits: 32, Encoding: 1},
	"edx": {Name: "edx", Bits: 32, Encoding: 2},
	"ebx": {Name: "ebx", Bits: 32, Encoding: 3},
	"esp": {Name: "esp", Bits: 32, Encoding: 4},
	"ebp": {Name: "ebp", Bits: 32, Encoding: 5},
	"esi": {Name: "esi", Bits: 32, Encoding: 6},
	"edi": {Name: "edi", Bits: 32, Encoding: 7},
}

// xmm0-xmm15, needed by the FunctionCall wrapper's caller-saves on
// 64-bit images.
var xmm = func() map[string]Register {
	m := make(map[string]Register, 16)
	for i := 0; i < 16; i++ {
		name := fmt.Sprintf("xmm%d", i)
		m[name] = Register{Name: name, Bits: 128, Encoding: uint8(i)}
	}
	return m
}()

// IntegerArgOrderSystemV is the System V AMD64 integer-argument register
// order used by generateWrapper on 64-bit images.
var IntegerArgOrderSystemV = []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}

// CallerSavedSystemV is the set of integer registers a System V AMD64
// caller must assume clobbered across a call.
var CallerSavedSystemV = []string{"rax", "rcx", "rdx", "rsi", "rdi", "r8", "r9", "r10", "r11"}

// CallerSavedCdecl32 is the analogous set for the 32-bit cdecl ABI.
var CallerSavedCdecl32 = []string{"eax", "ecx", "edx"}

// GetRegister looks up a register by name for the given word size,
// checking the GP table matching that width and falling back to the XMM
// table (xmm registers are addressed the same way regardless of word
// size).
func GetRegister(word WordSize, name string) (Register, bool) {
	if word == Word64 {
		if r, ok := gpr64[name]; ok {
			return r, true
		}
	} else if r, ok := gpr32[name]; ok {
		return r, true
	}
	r, ok := xmm[name]
	return r, ok
}
