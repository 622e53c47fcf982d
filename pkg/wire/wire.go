// Package wire defines the JSON bodies exchanged with the relay. Principals
// and hashes travel as 0x-prefixed hex strings; key blobs as base64.
package wire

// Transition ops accepted by POST /v1/transitions.
const (
	OpGrantRole           = "grantRole"
	OpRevokeRole          = "revokeRole"
	OpRegisterDocumentFor = "registerDocumentFor"
	OpGrantAccess         = "grantAccess"
	OpRevokeAccess        = "revokeAccess"
)

// TransitionRequest submits one mutating operation. Only the fields the op
// reads are set.
type TransitionRequest struct {
	Op      string `json:"op"`
	Nonce   uint64 `json:"nonce"`
	Role    string `json:"role,omitempty"`
	Account string `json:"account,omitempty"`
	Owner   string `json:"owner,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Pointer string `json:"pointer,omitempty"`
	Viewer  string `json:"viewer,omitempty"`
	KeyBlob []byte `json:"key_blob,omitempty"`
}

// Event is a committed domain event.
type Event struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Account string `json:"account,omitempty"`
	Caller  string `json:"caller,omitempty"`
	Owner   string `json:"owner,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Pointer string `json:"pointer,omitempty"`
	Viewer  string `json:"viewer,omitempty"`
	KeyBlob []byte `json:"key_blob,omitempty"`
}

// Receipt is returned for a committed transition.
type Receipt struct {
	Height    uint64  `json:"height"`
	Timestamp int64   `json:"timestamp"`
	Op        string  `json:"op"`
	Caller    string  `json:"caller"`
	Events    []Event `json:"events"`
}

// RoleMembers lists the holders of a role.
type RoleMembers struct {
	Role    string   `json:"role"`
	Members []string `json:"members"`
}

// RoleCheck answers hasRole.
type RoleCheck struct {
	Role      string `json:"role"`
	Principal string `json:"principal"`
	HasRole   bool   `json:"has_role"`
}

// Document is a registered provenance record.
type Document struct {
	Hash      string `json:"hash"`
	Owner     string `json:"owner"`
	Issuer    string `json:"issuer"`
	Pointer   string `json:"pointer"`
	CreatedAt int64  `json:"created_at"`
}

// Verification answers verifyDocument.
type Verification struct {
	Hash       string `json:"hash"`
	Registered bool   `json:"registered"`
}

// OwnerDocuments lists an owner's hashes in registration order.
type OwnerDocuments struct {
	Owner  string   `json:"owner"`
	Hashes []string `json:"hashes"`
}

// AccessCheck answers canView.
type AccessCheck struct {
	Hash    string `json:"hash"`
	Viewer  string `json:"viewer"`
	Allowed bool   `json:"allowed"`
}

// ViewerKey carries a stored key blob. An empty blob is returned both for
// "no key stored" and "not granted".
type ViewerKey struct {
	Hash    string `json:"hash"`
	Viewer  string `json:"viewer"`
	KeyBlob []byte `json:"key_blob"`
}

// Nonce reports a principal's last committed nonce.
type Nonce struct {
	Principal string `json:"principal"`
	Nonce     uint64 `json:"nonce"`
}

// JournalEntry is one committed transition in the event log.
type JournalEntry struct {
	Height    uint64  `json:"height"`
	Timestamp int64   `json:"timestamp"`
	Op        string  `json:"op"`
	Caller    string  `json:"caller"`
	Events    []Event `json:"events"`
}

// Events is a page of the event log. Next is the height to pass as after
// for the following page.
type Events struct {
	Entries []JournalEntry `json:"entries"`
	Next    uint64         `json:"next"`
}

// StreamRecord is one line of the NDJSON event stream.
type StreamRecord struct {
	Height    uint64 `json:"height"`
	Timestamp int64  `json:"timestamp"`
	Op        string `json:"op"`
	Index     int    `json:"index"`
	Event     Event  `json:"event"`
}

// Status describes the node.
type Status struct {
	Initialized bool   `json:"initialized"`
	Height      uint64 `json:"height"`
	Timestamp   int64  `json:"timestamp"`
	Digest      string `json:"digest"`
	Backend     string `json:"backend"`
	Keys        int64  `json:"keys"`
	Subscribers int    `json:"subscribers"`
	Version     string `json:"version"`
}

// Error is the body of every non-2xx response. Error holds the error kind,
// e.g. AccessDenied or NotFound.
type Error struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Error kinds produced by the relay itself. Registry rejections use the
// registry's kind names.
const (
	KindBadNonce     = "BadNonce"
	KindUnauthorized = "Unauthorized"
	KindInternal     = "Internal"
	KindUnavailable  = "Unavailable"
)
