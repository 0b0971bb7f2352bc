// Package sandbox authorizes worker filesystem operations against an
// allow-listed workspace root and a deny-list of sensitive patterns.
// Authorization and auditing are inseparable: every check appends exactly
// one entry to the audit trail, so no caller can bypass logging by ignoring
// a denial. The policy check itself is default-deny, side-effect-free
// beyond logging, and recomputed on every call — decisions are never
// replayed from history.
package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vivarium/pkg/audit"
)

// Sandbox is a path authorization engine bound to one workspace root and
// one audit trail. Safe for concurrent use.
type Sandbox struct {
	policy Policy
	root   string // resolved absolute workspace root
	trail  *audit.Trail

	mu      sync.Mutex
	entries []audit.Entry // decisions made by this instance, insertion order
}

// New creates a Sandbox for the policy's workspace root, recording every
// decision to trail. The root must exist; it is resolved once so later
// checks compare against its canonical form.
func New(policy Policy, trail *audit.Trail) (*Sandbox, error) {
	abs, err := filepath.Abs(policy.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root %s: %w", abs, err)
	}
	return &Sandbox{policy: policy, root: root, trail: trail}, nil
}

// Root returns the canonical workspace root.
func (s *Sandbox) Root() string { return s.root }

// IsPathAllowed reports whether path may be read. The path is resolved
// (symlinks and ".." collapsed) before comparison so traversal cannot
// bypass containment.
func (s *Sandbox) IsPathAllowed(path string) bool {
	allowed, reason := s.check(path, false)
	s.record("read", path, allowed, reason)
	return allowed
}

// ValidateWrite reports whether path may be written. On top of the plain
// allow check, filenames matching credential/secret heuristics are denied.
func (s *Sandbox) ValidateWrite(path string) bool {
	allowed, reason := s.check(path, true)
	s.record("write", path, allowed, reason)
	return allowed
}

// AuditLog returns every decision made by this sandbox instance in
// insertion order. Review only — never consulted for access decisions.
func (s *Sandbox) AuditLog() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// check is the pure policy predicate: resolve, contain, pattern-match.
func (s *Sandbox) check(path string, write bool) (allowed bool, reason string) {
	resolved, err := resolvePath(path)
	if err != nil {
		return false, fmt.Sprintf("cannot resolve path: %v", err)
	}

	if resolved != s.root && !strings.HasPrefix(resolved, s.root+string(filepath.Separator)) {
		return false, "outside workspace root"
	}

	rel, err := filepath.Rel(s.root, resolved)
	if err != nil {
		return false, fmt.Sprintf("cannot relativize path: %v", err)
	}
	if pat, hit := s.matchSensitive(rel); hit {
		return false, fmt.Sprintf("matches sensitive pattern %q", pat)
	}

	if write {
		if sub, hit := s.matchWriteDeny(filepath.Base(resolved)); hit {
			return false, fmt.Sprintf("write denied: filename contains %q", sub)
		}
	}

	return true, "within workspace root"
}

// matchSensitive tests every element of the relative path against the
// sensitive patterns, case-insensitively.
func (s *Sandbox) matchSensitive(rel string) (string, bool) {
	for _, element := range strings.Split(rel, string(filepath.Separator)) {
		lower := strings.ToLower(element)
		for _, pat := range s.policy.SensitivePatterns {
			if ok, err := filepath.Match(strings.ToLower(pat), lower); err == nil && ok {
				return pat, true
			}
		}
	}
	return "", false
}

// matchWriteDeny tests the filename against the write-only deny substrings.
func (s *Sandbox) matchWriteDeny(base string) (string, bool) {
	lower := strings.ToLower(base)
	for _, sub := range s.policy.WriteDenySubstrings {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return sub, true
		}
	}
	return "", false
}

// record appends one sandbox_check entry for the decision, both to the
// shared trail (best effort) and to this instance's review log.
func (s *Sandbox) record(op, path string, allowed bool, reason string) {
	fields := audit.Fields{
		"op":      op,
		"path":    path,
		"allowed": allowed,
		"reason":  reason,
	}
	s.trail.Log("sandbox_check", fields)

	s.mu.Lock()
	s.entries = append(s.entries, audit.Entry{Timestamp: time.Now(), Event: "sandbox_check", Fields: fields})
	s.mu.Unlock()
}

// resolvePath returns the canonical absolute form of path. Symlinks are
// resolved on the deepest existing ancestor so paths that do not exist yet
// (pending writes) still normalize correctly.
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	clean := filepath.Clean(abs)

	suffix := ""
	p := clean
	for {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		suffix = filepath.Join(filepath.Base(p), suffix)
		parent := filepath.Dir(p)
		if parent == p {
			// Hit the filesystem root without an existing ancestor.
			return clean, nil
		}
		p = parent
	}
}
