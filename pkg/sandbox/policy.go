package sandbox

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the immutable per-session sandbox configuration. A path is
// allowed iff it resolves under WorkspaceRoot and matches none of the
// sensitive patterns; writes are additionally screened against the
// credential heuristics.
type Policy struct {
	// WorkspaceRoot is the sole authorized subtree.
	WorkspaceRoot string

	// SensitivePatterns are globs matched against every element of the
	// path (case-insensitive). A match denies reads and writes alike.
	SensitivePatterns []string

	// WriteDenySubstrings are lowercase substrings that deny writes when
	// they appear in the target filename, even when the plain allow check
	// passes. Writes are irreversible, so they get the stricter policy.
	WriteDenySubstrings []string
}

// DefaultPolicy returns the compiled-in policy for the given workspace root.
func DefaultPolicy(root string) Policy {
	return Policy{
		WorkspaceRoot: root,
		SensitivePatterns: []string{
			".env*",
			".git",
			".ssh",
			".aws",
			".gnupg",
			"id_rsa*",
			"*.pem",
			"*.key",
		},
		WriteDenySubstrings: []string{
			"credential",
			"secret",
			"token",
			"password",
			".env",
		},
	}
}

// policyFile is the YAML shape of an on-disk policy override.
type policyFile struct {
	SensitivePatterns   []string `yaml:"sensitive_patterns"`
	WriteDenySubstrings []string `yaml:"write_deny_substrings"`
}

// LoadPolicy reads a policy override from the YAML file at path. A missing
// file yields the defaults; a present file replaces whichever lists it
// specifies and inherits the rest.
func LoadPolicy(root, path string) (Policy, error) {
	policy := DefaultPolicy(root)

	data, err := os.ReadFile(path) //nolint:gosec // policy path is controlled by the application
	if err != nil {
		if os.IsNotExist(err) {
			return policy, nil
		}
		return Policy{}, fmt.Errorf("read policy %s: %w", path, err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return Policy{}, fmt.Errorf("parse policy %s: %w", path, err)
	}

	if len(pf.SensitivePatterns) > 0 {
		policy.SensitivePatterns = pf.SensitivePatterns
	}
	if len(pf.WriteDenySubstrings) > 0 {
		policy.WriteDenySubstrings = pf.WriteDenySubstrings
	}
	return policy, nil
}
