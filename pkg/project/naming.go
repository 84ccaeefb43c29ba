package project

import (
	"fmt"
	"strings"
)

// invalidNameChars are rejected on every platform docbro targets; the
// superset keeps project directories portable.
const invalidNameChars = `/\:*?"<>|`

// reservedNames are Windows device names that cannot be used as directory
// names.
var reservedNames = map[string]struct{}{
	"con": {}, "prn": {}, "aux": {}, "nul": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {},
	"com6": {}, "com7": {}, "com8": {}, "com9": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {},
	"lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
}

// ValidateName checks a project name against the naming rules: 1-100
// characters, no path-hostile characters, not a reserved device name.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("project name must not be empty")
	}
	if trimmed != name {
		return fmt.Errorf("project name must not have leading or trailing whitespace")
	}
	if len(name) > 100 {
		return fmt.Errorf("project name must be at most 100 characters")
	}
	if idx := strings.IndexAny(name, invalidNameChars); idx >= 0 {
		return fmt.Errorf("project name contains invalid character %q", name[idx])
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("project name must not start with a dot")
	}
	base := strings.ToLower(name)
	if dot := strings.IndexByte(base, '.'); dot >= 0 {
		base = base[:dot]
	}
	if _, reserved := reservedNames[base]; reserved {
		return fmt.Errorf("project name %q is a reserved device name", name)
	}
	return nil
}
