package secure

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SealedEnv is an environment whose values written through Set are kept in
// enclaves. Variables inherited from the base environment stay as they are.
type SealedEnv struct {
	mu     sync.RWMutex
	plain  map[string]string
	sealed map[string]*SecureBuffer
}

// NewSealedEnv starts from environ, a list of KEY=value entries.
func NewSealedEnv(environ []string) *SealedEnv {
	e := &SealedEnv{
		plain:  make(map[string]string, len(environ)),
		sealed: make(map[string]*SecureBuffer),
	}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if ok && key != "" {
			e.plain[key] = value
		}
	}
	return e
}

// Lookup returns the value of name, opening its enclave if it is sealed.
func (e *SealedEnv) Lookup(name string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if buf, ok := e.sealed[name]; ok {
		value, err := buf.Reveal()
		if err != nil {
			return "", false
		}
		return value, true
	}
	value, ok := e.plain[name]
	return value, ok
}

// Set seals value under name, replacing any previous value.
func (e *SealedEnv) Set(name, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if old, ok := e.sealed[name]; ok {
		old.Destroy()
	}
	delete(e.plain, name)
	e.sealed[name] = SealString(value)
	return nil
}

// SealedNames lists the sealed variables in sorted order.
func (e *SealedEnv) SealedNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.sealed))
	for name := range e.sealed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Environ opens every enclave and returns the full environment as sorted
// KEY=value entries, ready for exec.Cmd.Env.
func (e *SealedEnv) Environ() ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.plain)+len(e.sealed))
	for key, value := range e.plain {
		out = append(out, key+"="+value)
	}
	for key, buf := range e.sealed {
		value, err := buf.Reveal()
		if err != nil {
			return nil, fmt.Errorf("failed to open sealed value for %s: %w", key, err)
		}
		out = append(out, key+"="+value)
	}
	sort.Strings(out)
	return out, nil
}

// Destroy drops every enclave.
func (e *SealedEnv) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for name, buf := range e.sealed {
		buf.Destroy()
		delete(e.sealed, name)
	}
}
