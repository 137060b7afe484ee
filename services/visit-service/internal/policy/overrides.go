package policy

import (
	"fmt"
	"strings"
	"time"
)

type Scope string

const (
	ScopeListing Scope = "listing"
	ScopeChannel Scope = "channel"
)

type Override struct {
	Scope Scope
	Key   string
	Lead  time.Duration
}

// ParseOverrides reads entries like "listing:L1=30m;channel:whatsapp=1h".
func ParseOverrides(raw string) ([]Override, error) {
	var out []Override
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		target, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("override %q: missing '='", entry)
		}
		scope, key, ok := strings.Cut(strings.TrimSpace(target), ":")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("override %q: expected scope:key", entry)
		}
		s := Scope(strings.TrimSpace(scope))
		if s != ScopeListing && s != ScopeChannel {
			return nil, fmt.Errorf("override %q: unknown scope %q", entry, scope)
		}
		lead, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil || lead < 0 {
			return nil, fmt.Errorf("override %q: invalid duration", entry)
		}
		out = append(out, Override{Scope: s, Key: strings.TrimSpace(key), Lead: lead})
	}
	return out, nil
}
