package policy

// Config represents the YAML policy structure.
type Config struct {
	Version  string         `yaml:"version"`
	Metadata Metadata       `yaml:"metadata"`
	Security SecurityConfig `yaml:"security"`
}

// Metadata contains policy metadata.
type Metadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Created     string `yaml:"created"`
	Updated     string `yaml:"updated"`
}

// SecurityConfig holds the three policy sets.
type SecurityConfig struct {
	// AllowedModules are module names macro code may load. Everything not
	// listed is denied.
	AllowedModules []string `yaml:"allowed_modules"`

	// BlockedCallables are names that must never be referenced or called.
	BlockedCallables []string `yaml:"blocked_callables"`

	// BlockedAttributes are attribute names that must never be accessed,
	// whether through dotted access or string subscripts.
	BlockedAttributes []string `yaml:"blocked_attributes"`

	// AllowEmptyModules permits an empty allowed_modules list, which denies
	// every load statement. Off by default to catch misconfiguration.
	AllowEmptyModules bool `yaml:"allow_empty_modules"`
}

// ExampleConfig returns an example policy configuration. Use this as a
// starting point for creating your own policy file.
func ExampleConfig() *Config {
	return &Config{
		Version: "1.0",
		Metadata: Metadata{
			Name:        "example",
			Description: "Example cadgate macro policy",
		},
		Security: SecurityConfig{
			AllowedModules:    DefaultAllowedModules(),
			BlockedCallables:  DefaultBlockedCallables(),
			BlockedAttributes: DefaultBlockedAttributes(),
		},
	}
}
