package registry

import "bytes"

// Op names a mutating operation.
type Op string

const (
	OpGenesis             Op = "genesis"
	OpGrantRole           Op = "grantRole"
	OpRevokeRole          Op = "revokeRole"
	OpRegisterDocumentFor Op = "registerDocumentFor"
	OpGrantAccess         Op = "grantAccess"
	OpRevokeAccess        Op = "revokeAccess"
)

// Ops lists every mutating operation in a stable order.
var Ops = []Op{OpGenesis, OpGrantRole, OpRevokeRole, OpRegisterDocumentFor, OpGrantAccess, OpRevokeAccess}

// Transition is one totally-ordered request delivered by the ordering
// layer. Caller is the authenticated submitter. Height and Timestamp are
// assigned by the ordering layer; the remaining fields are the operation
// arguments, read according to Op.
type Transition struct {
	Height    uint64    `json:"height"`
	Timestamp int64     `json:"timestamp"`
	Caller    Principal `json:"caller"`
	Op        Op        `json:"op"`
	Role      Role      `json:"role,omitempty"`
	Account   Principal `json:"account,omitzero"`
	Owner     Principal `json:"owner,omitzero"`
	Hash      Hash      `json:"hash,omitzero"`
	Pointer   string    `json:"pointer,omitempty"`
	Viewer    Principal `json:"viewer,omitzero"`
	KeyBlob   []byte    `json:"key_blob,omitempty"`
}

// MutationKind identifies a single write against the state tables.
type MutationKind uint8

const (
	MutSetRole MutationKind = iota + 1
	MutPutDocument
	MutSetGrant
	MutClearGrant
)

func (k MutationKind) String() string {
	switch k {
	case MutSetRole:
		return "setRole"
	case MutPutDocument:
		return "putDocument"
	case MutSetGrant:
		return "setGrant"
	case MutClearGrant:
		return "clearGrant"
	default:
		return "unknown"
	}
}

// Mutation is one write produced by Prepare. Persistence layers translate
// mutations into their own storage operations.
type Mutation struct {
	Kind MutationKind

	// MutSetRole
	Role      Role
	Principal Principal
	Member    bool

	// MutPutDocument. OwnerIndex is the position of the hash within the
	// owner's index after the write.
	Document   Document
	OwnerIndex int

	// MutSetGrant, MutClearGrant
	Hash    Hash
	Viewer  Principal
	KeyBlob []byte
}

// Changeset is the complete effect of a transition that passed its guards.
// Nothing is visible to readers until the changeset is committed. Only the
// machine that prepared a changeset can commit it, and only at the height
// it was prepared against.
type Changeset struct {
	m      *Machine
	base   uint64
	tr     Transition
	muts   []Mutation
	events []Event
}

// Transition returns the transition the changeset was prepared from.
func (cs *Changeset) Transition() Transition { return cloneTransition(cs.tr) }

// Mutations returns a copy of the writes the changeset performs.
func (cs *Changeset) Mutations() []Mutation {
	out := make([]Mutation, len(cs.muts))
	for i, mut := range cs.muts {
		mut.KeyBlob = bytes.Clone(mut.KeyBlob)
		out[i] = mut
	}
	return out
}

// Events returns a copy of the events the changeset emits.
func (cs *Changeset) Events() []Event { return cloneEvents(cs.events) }

// Receipt describes a committed transition.
type Receipt struct {
	Height    uint64    `json:"height"`
	Timestamp int64     `json:"timestamp"`
	Op        Op        `json:"op"`
	Caller    Principal `json:"caller"`
	Events    []Event   `json:"events"`
}
