package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Profile is a named variable mapping. DisplayField names the variable whose
// value becomes the base of each archive entry name.
type Profile struct {
	Key          string         `yaml:"key" json:"key"`
	Label        string         `yaml:"label" json:"label"`
	DisplayField string         `yaml:"display_field" json:"displayField"`
	Variables    []VariableSpec `yaml:"variables" json:"variables"`
}

// ErrProfileNotFound is returned by Lookup for an unregistered key.
var ErrProfileNotFound = errors.New("profile not found")

var (
	registry   = make(map[string]Profile)
	registryMu sync.RWMutex
)

// Validate checks that the profile is usable for rendering.
func (p Profile) Validate() error {
	if p.Key == "" {
		return errors.New("profile key is required")
	}
	if len(p.Variables) == 0 {
		return fmt.Errorf("profile %q: no variables", p.Key)
	}

	seen := make(map[string]bool, len(p.Variables))
	for i, v := range p.Variables {
		if v.Name == "" {
			return fmt.Errorf("profile %q: variable %d has no name", p.Key, i)
		}
		if v.Column == "" {
			return fmt.Errorf("profile %q: variable %q has no column", p.Key, v.Name)
		}
		if seen[v.Name] {
			return fmt.Errorf("profile %q: duplicate variable %q", p.Key, v.Name)
		}
		seen[v.Name] = true
	}

	if p.DisplayField != "" && !seen[p.DisplayField] {
		return fmt.Errorf("profile %q: display field %q is not a variable", p.Key, p.DisplayField)
	}
	return nil
}

// Register adds a profile at init time.
// Panics if the profile is invalid or the key is already registered.
func Register(p Profile) {
	if err := p.Validate(); err != nil {
		panic(err.Error())
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[p.Key]; exists {
		panic(fmt.Sprintf("profile already registered: %s", p.Key))
	}
	registry[p.Key] = p
}

// Put adds or replaces a profile. Used for profiles loaded at runtime.
func Put(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.Key] = p
	return nil
}

// Get returns a profile by key.
func Get(key string) (Profile, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	p, ok := registry[key]
	return p, ok
}

// Lookup is Get with an error matching ErrProfileNotFound.
func Lookup(key string) (Profile, error) {
	p, ok := Get(key)
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrProfileNotFound, key)
	}
	return p, nil
}

// All returns all registered profiles sorted by key.
func All() []Profile {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Profile, 0, len(registry))
	for _, p := range registry {
		result = append(result, p)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result
}

// ProfileCount returns the number of registered profiles.
func ProfileCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered profiles.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Profile)
}
