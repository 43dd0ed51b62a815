package policy

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/victoralfred/gowritter/safepath"
	"gopkg.in/yaml.v3"
)

// Loader loads policies from YAML files. The loaded Set is immutable; Load
// may be called again before the server starts accepting commands, but the
// gateway never reloads policy while serving — runtime-mutable policy would
// itself be an injection vector.
type Loader struct {
	path       string
	safePath   *safepath.SafePath
	policy     *Set
	lastHash   []byte
	lastLoad   time.Time
	validators []ConfigValidator
	mu         sync.RWMutex
}

// ConfigValidator validates a policy configuration before compilation.
type ConfigValidator interface {
	Validate(config *Config) error
}

// LoaderOption configures the loader.
type LoaderOption func(*Loader)

// WithValidator adds a config validator.
func WithValidator(v ConfigValidator) LoaderOption {
	return func(l *Loader) {
		l.validators = append(l.validators, v)
	}
}

// NewLoader creates a policy loader rooted at basePath.
func NewLoader(basePath, policyFile string, opts ...LoaderOption) (*Loader, error) {
	sp, err := safepath.New(basePath)
	if err != nil {
		return nil, fmt.Errorf("creating safe path: %w", err)
	}

	l := &Loader{
		path:     policyFile,
		safePath: sp,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Load reads, validates, and compiles the policy file.
func (l *Loader) Load(ctx context.Context) (*Set, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := l.safePath.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	// Skip recompilation if the file is unchanged.
	hash := sha256.Sum256(data)
	if l.policy != nil && string(hash[:]) == string(l.lastHash) {
		return l.policy, nil
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing policy YAML: %w", err)
	}

	for _, v := range l.validators {
		if err := v.Validate(&config); err != nil {
			return nil, fmt.Errorf("policy validation failed: %w", err)
		}
	}

	compiled, err := Compile(&config)
	if err != nil {
		return nil, fmt.Errorf("compiling policy: %w", err)
	}
	compiled.hash = fmt.Sprintf("%x", hash)

	l.policy = compiled
	l.lastHash = hash[:]
	l.lastLoad = time.Now()

	return compiled, nil
}

// Get returns the last loaded policy, or nil if Load has not succeeded.
func (l *Loader) Get() *Set {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.policy
}

// DefaultValidator performs basic sanity checks on a policy configuration.
type DefaultValidator struct{}

// Validate implements ConfigValidator.
func (DefaultValidator) Validate(config *Config) error {
	if config.Version == "" {
		return fmt.Errorf("policy version is required")
	}
	seen := make(map[string]struct{}, len(config.Security.AllowedModules))
	for _, m := range config.Security.AllowedModules {
		if _, dup := seen[m]; dup {
			return fmt.Errorf("duplicate module %q in allowed_modules", m)
		}
		seen[m] = struct{}{}
	}
	return nil
}
