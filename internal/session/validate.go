package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under ~/.messageai, so they are
// restricted to a filesystem-safe alphabet.
var namePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

const maxNameLen = 64

// ValidateName rejects names that cannot serve as a session directory.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name is empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("session name %q exceeds %d characters", name, maxNameLen)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("session name %q may only contain lowercase letters, digits, '-' and '_'", name)
	}
	return nil
}
