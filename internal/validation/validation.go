// Package validation provides validation functions for stack and
// configuration identifiers. Stack name rules follow what the
// provisioning engine accepts for local stack names.
package validation

import (
	"fmt"
	"strings"
)

// MaxStackNameLength is the longest accepted stack name.
const MaxStackNameLength = 100

// isAlpha returns true if the byte is an ASCII letter.
func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// isNum returns true if the byte is an ASCII digit.
func isNum(b byte) bool {
	return b >= '0' && b <= '9'
}

// isAlphaNum returns true if the byte is an ASCII letter or digit.
func isAlphaNum(b byte) bool {
	return isAlpha(b) || isNum(b)
}

// ValidateStackName validates a stack name. Names must start with a
// letter or digit and may contain letters, digits, hyphens, underscores,
// and periods.
func ValidateStackName(name string) error {
	if name == "" {
		return fmt.Errorf("stack name must not be empty")
	}
	if len(name) > MaxStackNameLength {
		return fmt.Errorf("stack name must be at most %d characters", MaxStackNameLength)
	}
	if !isAlphaNum(name[0]) {
		return fmt.Errorf("stack name must start with a letter or digit")
	}
	for _, b := range []byte(name) {
		if !isAlphaNum(b) && b != '-' && b != '_' && b != '.' {
			return fmt.Errorf("stack names can only contain letters, digits, hyphens, underscores, or periods")
		}
	}
	return nil
}

// ValidateConfigKey validates a configuration key. Keys are either bare
// ("region") or namespaced ("gcp:project"); both sides must be non-empty
// and free of whitespace.
func ValidateConfigKey(key string) error {
	if key == "" {
		return fmt.Errorf("config key must not be empty")
	}
	if strings.ContainsAny(key, " \t\n") {
		return fmt.Errorf("config key must not contain whitespace")
	}
	namespace, name, namespaced := strings.Cut(key, ":")
	if !namespaced {
		return nil
	}
	if namespace == "" {
		return fmt.Errorf("config key namespace must not be empty")
	}
	if name == "" || strings.Contains(name, ":") {
		return fmt.Errorf("config key must be 'name' or 'namespace:name'")
	}
	return nil
}

// ValidateConfig validates every key of a configuration map and collects
// all failures.
func ValidateConfig(config map[string]string) error {
	var errs ValidationErrors
	for key := range config {
		if err := ValidateConfigKey(key); err != nil {
			errs.Add("config", key, err.Error())
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidateCreateStack validates the fields of a stack creation request.
func ValidateCreateStack(name string, config map[string]string) error {
	var errs ValidationErrors
	if err := ValidateStackName(name); err != nil {
		errs.Add("name", name, err.Error())
	}
	for key := range config {
		if err := ValidateConfigKey(key); err != nil {
			errs.Add("config", key, err.Error())
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}
