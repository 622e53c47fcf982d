package registry

func prepareGenesis(tr Transition) ([]Mutation, []Event, error) {
	if err := requirePrincipal(tr.Op, "admin", tr.Account); err != nil {
		return nil, nil, err
	}
	muts := []Mutation{{Kind: MutSetRole, Role: RoleAdmin, Principal: tr.Account, Member: true}}
	events := []Event{{Type: EventRoleGranted, Role: RoleAdmin, Account: tr.Account, Caller: tr.Account}}
	return muts, events, nil
}

func prepareGrantRole(t *tables, tr Transition) ([]Mutation, []Event, error) {
	if err := onlyRole(t, tr.Op, RoleAdmin, tr.Caller); err != nil {
		return nil, nil, err
	}
	if err := requireRole(tr.Op, tr.Role); err != nil {
		return nil, nil, err
	}
	if err := requirePrincipal(tr.Op, "account", tr.Account); err != nil {
		return nil, nil, err
	}
	muts := []Mutation{{Kind: MutSetRole, Role: tr.Role, Principal: tr.Account, Member: true}}
	events := []Event{{Type: EventRoleGranted, Role: tr.Role, Account: tr.Account, Caller: tr.Caller}}
	return muts, events, nil
}

// prepareRevokeRole clears the flag even when it was not set; the event is
// emitted either way. Revoking the caller's own ADMIN role is permitted.
func prepareRevokeRole(t *tables, tr Transition) ([]Mutation, []Event, error) {
	if err := onlyRole(t, tr.Op, RoleAdmin, tr.Caller); err != nil {
		return nil, nil, err
	}
	if err := requireRole(tr.Op, tr.Role); err != nil {
		return nil, nil, err
	}
	if err := requirePrincipal(tr.Op, "account", tr.Account); err != nil {
		return nil, nil, err
	}
	muts := []Mutation{{Kind: MutSetRole, Role: tr.Role, Principal: tr.Account, Member: false}}
	events := []Event{{Type: EventRoleRevoked, Role: tr.Role, Account: tr.Account, Caller: tr.Caller}}
	return muts, events, nil
}
