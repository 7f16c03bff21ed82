package models

// All lists every model the agent persists, in creation order.
func All() []any {
	return []any{&AuthUser{}, &Profile{}, &ClientStorageEntry{}}
}
