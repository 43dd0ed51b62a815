// Package policy provides the allow-list security policy for macro code.
package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Set is the compiled security policy: three name sets governing what macro
// code may load, call, and access. It is immutable after compilation and
// safe for concurrent use without locking. There is deliberately no mutation
// API — changing policy means redeploying configuration and restarting,
// never a runtime command.
type Set struct {
	allowedModules    map[string]struct{}
	blockedCallables  map[string]struct{}
	blockedAttributes map[string]struct{}
	version           string
	hash              string
	loadedAt          time.Time
}

// Compile builds an immutable Set from configuration.
func Compile(config *Config) (*Set, error) {
	if len(config.Security.AllowedModules) == 0 && !config.Security.AllowEmptyModules {
		return nil, fmt.Errorf("policy: allowed_modules is empty; set allow_empty_modules to force a deny-all module policy")
	}

	s := &Set{
		allowedModules:    make(map[string]struct{}, len(config.Security.AllowedModules)),
		blockedCallables:  make(map[string]struct{}, len(config.Security.BlockedCallables)),
		blockedAttributes: make(map[string]struct{}, len(config.Security.BlockedAttributes)),
		version:           config.Version,
		loadedAt:          time.Now(),
	}

	for _, m := range config.Security.AllowedModules {
		m = strings.TrimSpace(m)
		if m == "" {
			return nil, fmt.Errorf("policy: empty module name in allowed_modules")
		}
		s.allowedModules[m] = struct{}{}
	}
	for _, c := range config.Security.BlockedCallables {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, fmt.Errorf("policy: empty name in blocked_callables")
		}
		s.blockedCallables[c] = struct{}{}
	}
	for _, a := range config.Security.BlockedAttributes {
		a = strings.TrimSpace(a)
		if a == "" {
			return nil, fmt.Errorf("policy: empty name in blocked_attributes")
		}
		s.blockedAttributes[a] = struct{}{}
	}

	return s, nil
}

// ModuleAllowed reports whether a module may be loaded by macro code.
func (s *Set) ModuleAllowed(name string) bool {
	_, ok := s.allowedModules[name]
	return ok
}

// CallableBlocked reports whether a name must never be referenced or called.
func (s *Set) CallableBlocked(name string) bool {
	_, ok := s.blockedCallables[name]
	return ok
}

// AttributeBlocked reports whether an attribute name must never be accessed.
func (s *Set) AttributeBlocked(name string) bool {
	_, ok := s.blockedAttributes[name]
	return ok
}

// AllowedModules returns the sorted allow-list, for diagnostics and for the
// executor's namespace construction.
func (s *Set) AllowedModules() []string {
	names := make([]string, 0, len(s.allowedModules))
	for m := range s.allowedModules {
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}

// Version returns the policy version string for audit purposes.
func (s *Set) Version() string {
	return s.version
}

// Hash returns the sha256 of the source configuration, or "" for embedded
// defaults.
func (s *Set) Hash() string {
	return s.hash
}

// LoadedAt returns when this policy was compiled.
func (s *Set) LoadedAt() time.Time {
	return s.loadedAt
}
