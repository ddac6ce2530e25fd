package policy

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// document is the on-disk policy file shape.
type document struct {
	Policies []*Policy `yaml:"policies"`
}

// Set is an immutable collection of named policies, the unit of atomic
// reconfiguration.
type Set struct {
	policies map[string]*Policy
}

// Get looks up a policy by name.
func (s *Set) Get(name string) (*Policy, error) {
	p, ok := s.policies[name]
	if !ok {
		return nil, fmt.Errorf("unknown policy %q", name)
	}
	return p, nil
}

// Names lists the policies in the set, sorted.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.policies))
	for name := range s.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseSet validates a policy document. Any invalid policy rejects the whole
// document; a set is all-valid or not loaded at all.
func ParseSet(data []byte) (*Set, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing policy document: %w", err)
	}
	if len(doc.Policies) == 0 {
		return nil, fmt.Errorf("policy document defines no policies")
	}

	set := &Set{policies: make(map[string]*Policy, len(doc.Policies))}
	for _, p := range doc.Policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := set.policies[p.Name]; dup {
			return nil, fmt.Errorf("duplicate policy %q", p.Name)
		}
		p.normalize()
		set.policies[p.Name] = p
	}
	return set, nil
}

// Loader holds the active policy set behind an atomic pointer. Reload swaps
// the whole set in one step; a rejected document leaves the active set
// untouched, so a bad deploy degrades to stale-but-valid configuration.
type Loader struct {
	path   string
	active atomic.Pointer[Set]
}

// NewLoader reads and validates the policy file at path. Unlike Reload, a
// load failure here is fatal: there is no previous valid set to fall back to.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	set, err := ParseSet(data)
	if err != nil {
		return nil, err
	}
	l.active.Store(set)
	log.Printf("[POLICY] loaded %d policies from %s: %v", len(set.policies), path, set.Names())
	return l, nil
}

// NewStaticLoader wraps an already-built set; used by tests and by callers
// that manage policy documents themselves.
func NewStaticLoader(set *Set) *Loader {
	l := &Loader{}
	l.active.Store(set)
	return l
}

// Active returns the current policy set. The returned set is immutable.
func (l *Loader) Active() *Set {
	return l.active.Load()
}

// Reload re-reads the policy file and swaps the active set if the new
// document validates. On any error the previous set stays active.
func (l *Loader) Reload() error {
	if l.path == "" {
		return fmt.Errorf("loader has no backing file")
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("reading policy file: %w", err)
	}
	set, err := ParseSet(data)
	if err != nil {
		log.Printf("[POLICY] reload rejected, keeping active set: %v", err)
		return err
	}
	l.active.Store(set)
	log.Printf("[POLICY] reloaded %d policies: %v", len(set.policies), set.Names())
	return nil
}
