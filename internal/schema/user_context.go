package schema

// UserContext represents the authenticated caller, set by the transport
// adapter. Attrs carries extra claims referenced by RLS placeholders.
type UserContext struct {
	ID    string         `json:"id"`
	Roles []string       `json:"roles"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// HasRole checks whether the user has a specific role.
func (u *UserContext) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
