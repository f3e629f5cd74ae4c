package bincore

import "github.com/pkg/errors"

// DataCellID is the stable identifier ReserveData hands back for a cell
// whose final address is only known once Layout fixes the payload's
// data base.
type DataCellID int

type dataCell struct {
	id     DataCellID
	size   int
	offset int
}

// Snippet is the Payload variant that runs an ordered sequence of
// instructions supplied by the caller, with an optional bootstrap
// prefix and scratch data cells.
type Snippet struct {
	basePayload

	instructions          [][]byte
	bootstrapInstructions [][]byte
	cells                 []dataCell
	nextCellOffset        int
	hasBootstrap          bool
	sentinelCell          DataCellID

	bootstrapAddr Address
	bodyAddr      Address
	dataBaseAddr  Address
	returnAddr    Address
	addressed     bool

	// encoded holds the phase-2 output once Layout's encode pass has run.
	encoded []byte
}

// NewSnippet returns an empty snippet with no bootstrap and no
// reserved data.
func NewSnippet() *Snippet {
	return &Snippet{basePayload: newBasePayload()}
}

func (s *Snippet) Kind() PayloadKind { return KindSnippet }

// AddInstruction appends an already-encoded instruction to the body.
// The final instruction the caller adds should not itself be a branch
// back to the host — Layout appends the mandatory return jump.
func (s *Snippet) AddInstruction(bytes []byte) {
	s.instructions = append(s.instructions, bytes)
}

// AddBootstrapInstruction appends an already-encoded instruction to the
// one-time init sequence a bootstrap runs the first time the snippet
// fires. Instructions added before EnableBootstrap is called still take
// effect — EnableBootstrap only needs to have run by the time Layout
// sizes the snippet.
func (s *Snippet) AddBootstrapInstruction(bytes []byte) {
	s.bootstrapInstructions = append(s.bootstrapInstructions, bytes)
}

// ReserveData reserves a size-byte cell in the snippet's data region
// and returns a stable identifier for it.
func (s *Snippet) ReserveData(size int) DataCellID {
	id := DataCellID(len(s.cells))
	s.cells = append(s.cells, dataCell{id: id, size: size, offset: s.nextCellOffset})
	s.nextCellOffset += size
	return id
}

// CellOffset returns the byte offset, from the data region's base, of
// the cell identified by id.
func (s *Snippet) CellOffset(id DataCellID) (int, error) {
	for _, c := range s.cells {
		if c.id == id {
			return c.offset, nil
		}
	}
	return 0, errors.Errorf("snippet has no data cell %d", id)
}

// EnableBootstrap reserves the one-time sentinel cell and marks the
// snippet as having a bootstrap prefix. Idempotent.
func (s *Snippet) EnableBootstrap() {
	if s.hasBootstrap {
		return
	}
	s.hasBootstrap = true
	s.sentinelCell = s.ReserveData(1)
}

func (s *Snippet) bodySize() int {
	total := 0
	for _, instr := range s.instructions {
		total += len(instr)
	}
	return total + SizeUncondJump
}

func (s *Snippet) dataSize() int { return s.nextCellOffset }

// bootstrapInitSize returns the byte length of the one-time init
// sequence a bootstrap gate guards, zero if no instructions were added.
func (s *Snippet) bootstrapInitSize() int {
	total := 0
	for _, instr := range s.bootstrapInstructions {
		total += len(instr)
	}
	return total
}

// SizeNeeded returns the bootstrap, body, and data sizes summed; a
// snippet's entry is 1-byte aligned so no inter-region padding applies.
func (s *Snippet) SizeNeeded(word WordSize) int {
	total := s.bodySize() + s.dataSize()
	if s.hasBootstrap {
		total += onceGuardPrefixSize(word) + s.bootstrapInitSize()
	}
	return total
}

// EntryPoint returns the bootstrap address when a bootstrap exists
// (its own dispatch-once gate falls through to the body on every
// call), otherwise the body address.
func (s *Snippet) EntryPoint() (Address, error) {
	if !s.addressed {
		return 0, errors.New("snippet entry point requested before layout")
	}
	if s.hasBootstrap {
		return s.bootstrapAddr, nil
	}
	return s.bodyAddr, nil
}

// setAddresses records the addresses Layout assigned this snippet.
func (s *Snippet) setAddresses(word WordSize, base, dataBase Address) {
	s.bootstrapAddr = base
	if s.hasBootstrap {
		s.bodyAddr = base + Address(onceGuardPrefixSize(word)) + Address(s.bootstrapInitSize())
	} else {
		s.bodyAddr = base
	}
	s.dataBaseAddr = dataBase
	s.addressed = true
}

// setReturnTarget records the address the snippet's tail jump must
// reach, supplied by Layout once the overwrite region's end is known.
func (s *Snippet) setReturnTarget(addr Address) { s.returnAddr = addr }

// encode runs the snippet's phase-2 encode: bootstrap gate (if any),
// body instructions, then the mandatory return jump.
func (s *Snippet) encode(word WordSize) ([]byte, error) {
	var out []byte
	if s.hasBootstrap {
		off, err := s.CellOffset(s.sentinelCell)
		if err != nil {
			return nil, err
		}
		sentinelAddr := s.dataBaseAddr + Address(off)
		var init []byte
		for _, instr := range s.bootstrapInstructions {
			init = append(init, instr...)
		}
		out = append(out, generateOnceGuard(word, sentinelAddr, init)...)
	}
	for _, instr := range s.instructions {
		out = append(out, instr...)
	}

	jmpAddr := s.bootstrapAddr + Address(len(out))
	disp, err := relDisp32(jmpAddr, s.returnAddr, SizeUncondJump)
	if err != nil {
		return nil, err
	}
	e := NewEncoder(word)
	e.JmpRel32(disp)
	return append(out, e.Bytes()...), nil
}
