package websocket

import "slices"

// AudienceFilter excludes recipients whose identity id is listed in
// excludeUserIDs, and when roles is non-empty, recipients holding none of
// them. It returns nil when neither restriction is given.
func AudienceFilter(excludeUserIDs, roles []string) Filter {
	if len(excludeUserIDs) == 0 && len(roles) == 0 {
		return nil
	}

	excluded := make(map[string]struct{}, len(excludeUserIDs))
	for _, id := range excludeUserIDs {
		excluded[id] = struct{}{}
	}

	return func(identity Identity, _ any) bool {
		if _, skip := excluded[identity.ID]; skip {
			return false
		}
		if len(roles) == 0 {
			return true
		}
		for _, role := range identity.Roles {
			if slices.Contains(roles, role) {
				return true
			}
		}
		return false
	}
}
