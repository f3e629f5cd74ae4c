package bincore

import "github.com/google/uuid"

// PayloadKind distinguishes the two Payload variants.
type PayloadKind int

const (
	KindSnippet PayloadKind = iota
	KindFunctionCall
)

// Payload is the sum-of-two-variants injected-code owner: a Snippet or
// a FunctionCall. The common surface is deliberately thin —
// Layout type-switches to the concrete variant for the size/placement
// arithmetic each one needs.
type Payload interface {
	ID() uuid.UUID
	Kind() PayloadKind
	// Shared reports whether the payload has been marked with SetShared
	// as targeted by more than one point; a marked payload is recorded in
	// the registry's shared-payload table when a point targeting it is
	// registered. It does not count the points that target the payload.
	Shared() bool
	SetShared(bool)
	// SizeNeeded returns the total byte budget this payload needs from
	// Layout, for the given pointer width.
	SizeNeeded(word WordSize) int
	// EntryPoint returns the address execution should transfer to in
	// order to fire this payload. Valid only after Layout.
	EntryPoint() (Address, error)
}

// basePayload factors the identity/shared bookkeeping common to both
// variants.
type basePayload struct {
	id     uuid.UUID
	shared bool
}

func (b *basePayload) ID() uuid.UUID    { return b.id }
func (b *basePayload) Shared() bool     { return b.shared }
func (b *basePayload) SetShared(v bool) { b.shared = v }

func newBasePayload() basePayload {
	return basePayload{id: newID()}
}
