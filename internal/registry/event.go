package registry

// EventType names a domain event emitted by a committed transition.
type EventType string

const (
	EventRoleGranted        EventType = "RoleGranted"
	EventRoleRevoked        EventType = "RoleRevoked"
	EventDocumentRegistered EventType = "DocumentRegistered"
	EventAccessGranted      EventType = "AccessGranted"
	EventAccessRevoked      EventType = "AccessRevoked"
)

// Event is one entry of the audit output attached to a committed
// transition. Only the fields relevant to Type are set.
//
//	RoleGranted / RoleRevoked        Role, Account, Caller
//	DocumentRegistered               Caller (issuer), Owner, Hash, Pointer
//	AccessGranted                    Hash, Caller, Viewer, KeyBlob
//	AccessRevoked                    Hash, Caller, Viewer
type Event struct {
	Type    EventType `json:"type"`
	Role    Role      `json:"role,omitempty"`
	Account Principal `json:"account,omitzero"`
	Caller  Principal `json:"caller,omitzero"`
	Owner   Principal `json:"owner,omitzero"`
	Hash    Hash      `json:"hash,omitzero"`
	Pointer string    `json:"pointer,omitempty"`
	Viewer  Principal `json:"viewer,omitzero"`
	KeyBlob []byte    `json:"key_blob,omitempty"`
}

// Attributes flattens the event into string-keyed values for filtering.
// Unset principal and hash fields are omitted.
func (e Event) Attributes() map[string]any {
	attrs := map[string]any{"type": string(e.Type)}
	if e.Role != "" {
		attrs["role"] = string(e.Role)
	}
	if !e.Account.IsZero() {
		attrs["account"] = e.Account.String()
	}
	if !e.Caller.IsZero() {
		attrs["caller"] = e.Caller.String()
	}
	if !e.Owner.IsZero() {
		attrs["owner"] = e.Owner.String()
	}
	if !e.Hash.IsZero() {
		attrs["hash"] = e.Hash.String()
	}
	if e.Pointer != "" {
		attrs["pointer"] = e.Pointer
	}
	if !e.Viewer.IsZero() {
		attrs["viewer"] = e.Viewer.String()
	}
	return attrs
}
