package policy

// Default policy sets. These mirror the embedded configuration shipped with
// the gateway: the scripting modules the host registers, plus the dynamic
// evaluation and introspection surface that must stay unreachable even
// though the restricted namespace never exposes it directly.

// DefaultAllowedModules returns the default module allow-list.
func DefaultAllowedModules() []string {
	return []string{
		"math",
		"time",
		"json",
		"struct",
		"geometry",
		"sketch",
	}
}

// DefaultBlockedCallables returns the default set of names that macro code
// may never reference or call.
func DefaultBlockedCallables() []string {
	return []string{
		"eval",
		"exec",
		"compile",
		"open",
		"__import__",
		"__builtins__",
		"globals",
		"locals",
		"vars",
		"setattr",
		"delattr",
	}
}

// DefaultBlockedAttributes returns the default set of attribute names macro
// code may never access.
func DefaultBlockedAttributes() []string {
	return []string{
		"__code__",
		"__globals__",
		"__dict__",
		"__class__",
		"__subclasses__",
		"__bases__",
		"__mro__",
	}
}

// Default compiles the embedded default policy. It never fails; a failure
// here is a programming error.
func Default() *Set {
	s, err := Compile(ExampleConfig())
	if err != nil {
		panic("policy: embedded default policy failed to compile: " + err.Error())
	}
	return s
}
