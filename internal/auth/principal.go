package auth

// Principal is the authenticated identity a request acts as. The zero value
// is the anonymous viewer.
type Principal struct {
	Username string
	Admin    bool
}

func (p Principal) Known() bool { return p.Username != "" }

// CanAdminister is the single authorization predicate behind every
// admin-gated operation (public room create/delete, message delete,
// maintenance actions, bot-proxy sends).
func (p Principal) CanAdminister() bool { return p.Admin }
