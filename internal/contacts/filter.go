package contacts

import "strings"

// Filter keeps dialable, not-yet-sent contacts, optionally restricted to one
// organization (empty matches all), and returns at most limit of them.
// limit <= 0 means no limit.
func Filter(list []*Contact, organization string, limit int) []*Contact {
	organization = strings.TrimSpace(organization)
	out := make([]*Contact, 0, len(list))
	for _, c := range list {
		if c == nil || !c.Dialable() || c.Status != StatusNotSent {
			continue
		}
		if organization != "" && c.Organization != organization {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
