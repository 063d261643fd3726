package auth

import "strings"

// Allowlist limits sign-in to listed addresses and whole domains.
// The zero value admits every address.
type Allowlist struct {
	domains map[string]struct{}
	emails  map[string]struct{}
}

// NewAllowlist builds an Allowlist. Entries are matched case-insensitively.
func NewAllowlist(domains, emails []string) Allowlist {
	return Allowlist{
		domains: lowerSet(domains),
		emails:  lowerSet(emails),
	}
}

// Restricted reports whether any entry is configured.
func (a Allowlist) Restricted() bool {
	return len(a.domains) > 0 || len(a.emails) > 0
}

// Allows reports whether email may sign in.
func (a Allowlist) Allows(email string) bool {
	if !a.Restricted() {
		return true
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if _, ok := a.emails[email]; ok {
		return true
	}

	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return false
	}
	_, ok := a.domains[email[at+1:]]
	return ok
}

func lowerSet(values []string) map[string]struct{} {
	var set map[string]struct{}
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if set == nil {
			set = make(map[string]struct{}, len(values))
		}
		set[v] = struct{}{}
	}
	return set
}
