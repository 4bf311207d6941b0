package reconcile

import (
	"os"
	"strings"
)

// Env is a mutable view of environment variables.
type Env interface {
	Lookup(name string) (string, bool)
	Set(name, value string) error
}

// MapEnv is an Env backed by a plain map.
type MapEnv map[string]string

// Lookup implements Env.
func (m MapEnv) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Set implements Env.
func (m MapEnv) Set(name, value string) error {
	m[name] = value
	return nil
}

// OSEnv is an Env backed by the process environment.
type OSEnv struct{}

// Lookup implements Env.
func (OSEnv) Lookup(name string) (string, bool) {
	return os.LookupEnv(name)
}

// Set implements Env.
func (OSEnv) Set(name, value string) error {
	return os.Setenv(name, value)
}

// Snapshot copies the process environment into a MapEnv.
func Snapshot() MapEnv {
	return FromEnviron(os.Environ())
}

// FromEnviron parses KEY=VALUE entries as returned by os.Environ.
// Entries without '=' are skipped.
func FromEnviron(environ []string) MapEnv {
	env := make(MapEnv, len(environ))
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		env[name] = value
	}
	return env
}

// Environ renders m as KEY=VALUE entries in unspecified order.
func (m MapEnv) Environ() []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}
