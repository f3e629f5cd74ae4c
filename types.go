// Package bincore is the code-injection engine of a static ELF rewriter:
// the data model of instrumentation points, the trampoline mechanism that
// diverts control from the original .text into relocated/appended code,
// and the layout/emit passes that turn a frozen set of requests into a
// rewritten image.
//
// ELF parsing, disassembly/encoding, and CFG recovery are deliberately not
// part of this package — they are consumed through the Disassembler,
// ImageModel and OutputFile interfaces in collaborators.go.
package bincore

import "fmt"

// WordSize is the pointer width of the target image.
type WordSize int

const (
	Word32 WordSize = 4
	Word64 WordSize = 8
)

// Priority gives the strict total order used to compose multiple points at
// the same source address. Ties within an address are forbidden.
type Priority int

const (
	Undefined Priority = iota
	SysInit
	UserInit
	Regular
)

func (p Priority) String() string {
	switch p {
	case SysInit:
		return "SysInit"
	case UserInit:
		return "UserInit"
	case Regular:
		return "Regular"
	default:
		return "Undefined"
	}
}

// Location is where a trampoline's first instruction sits relative to the
// original instruction it instruments.
type Location int

const (
	Prior Location = iota
	Replace
	After
)

// FlagsProtectionMode controls how EFLAGS is preserved across the jump into
// injected code.
type FlagsProtectionMode int

const (
	FlagsNone FlagsProtectionMode = iota
	FlagsFull
	FlagsLight
)

// flagsProtectSize returns the fixed byte cost of a protection mode: the
// budget the generator's save/restore bytes must never exceed.
func flagsProtectSize(mode FlagsProtectionMode, word WordSize) int {
	switch mode {
	case FlagsFull:
		return 2
	case FlagsLight:
		if word == Word64 {
			return 18
		}
		return 12
	default:
		return 0
	}
}

// InstrumentationMode controls whether a payload is reached through a
// near-jump (Trampolined) or expanded in place (InlineSnippet).
type InstrumentationMode int

const (
	InlineSnippet InstrumentationMode = iota
	Trampolined
)

// SizeUncondJump is the fixed size, in bytes, of an x86 unconditional
// near-jump with a 32-bit signed displacement.
const SizeUncondJump = 5

// PLTReturnOffset is the fixed return offset, in bytes, into a
// procedure-link stub. The wrapper generator does not use it: a wrapper
// returns to its trampoline with a plain ret.
const PLTReturnOffset = 6

// TrampolineArenaIncrement is the fixed growth increment for the
// trampoline arena; Config may override it for testing.
const TrampolineArenaIncrement = 0x4000

// Address is an absolute virtual address in the output image.
type Address uint64

// AddrRange is a half-open [Start, End) byte range of source addresses.
type AddrRange struct {
	Start Address
	End   Address
}

func (r AddrRange) Contains(a Address) bool {
	return a >= r.Start && a < r.End
}

func (r AddrRange) String() string {
	return fmt.Sprintf("[0x%x, 0x%x)", uint64(r.Start), uint64(r.End))
}
