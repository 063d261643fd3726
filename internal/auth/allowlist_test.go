package auth

import "testing"

func TestAllowlistAllows(t *testing.T) {
	tests := []struct {
		name    string
		domains []string
		emails  []string
		email   string
		want    bool
	}{
		{name: "empty admits everyone", email: "user@other.com", want: true},
		{name: "exact email ignores case", emails: []string{"ana@example.com"}, email: " Ana@Example.COM ", want: true},
		{name: "domain match", domains: []string{"Example.com"}, email: "lee@example.com", want: true},
		{name: "unknown domain", domains: []string{"example.com"}, email: "lee@other.com", want: false},
		{name: "subdomain is not the domain", domains: []string{"example.com"}, email: "lee@mail.example.com", want: false},
		{name: "missing local part", domains: []string{"example.com"}, email: "@example.com", want: false},
		{name: "email list without domain match", emails: []string{"ana@example.com"}, email: "lee@example.com", want: false},
		{name: "blank entries are ignored", domains: []string{" ", ""}, email: "lee@other.com", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allow := NewAllowlist(tt.domains, tt.emails)
			if got := allow.Allows(tt.email); got != tt.want {
				t.Fatalf("Allows(%q) = %v, want %v", tt.email, got, tt.want)
			}
		})
	}
}

func TestAllowlistRestricted(t *testing.T) {
	if (Allowlist{}).Restricted() {
		t.Fatal("zero Allowlist should not be restricted")
	}
	if NewAllowlist([]string{"  "}, nil).Restricted() {
		t.Fatal("blank entries should not restrict")
	}
	if !NewAllowlist(nil, []string{"ana@example.com"}).Restricted() {
		t.Fatal("expected restriction with one email")
	}
}
