package secret

import (
	"sort"
	"strings"
)

// Source lists the inputs an Identity can be parsed from. The first of Name,
// PointerName and StoreKey that yields a non-empty bare name wins. A supplied
// StoreKey is kept verbatim; the pointer name is always derived.
type Source struct {
	Name              string
	PointerName       string
	StoreKey          string
	OverrideNamespace string
}

// Identity is the immutable address of one secret.
type Identity struct {
	name        string
	storeKey    string
	pointerName string
}

// Parse builds an Identity from src.
func (n Naming) Parse(src Source) (Identity, error) {
	name := strings.ToLower(strings.TrimSpace(src.Name))
	if name == "" {
		name = n.nameFromPointer(src.PointerName)
	}
	if name == "" {
		name = nameFromStoreKey(src.StoreKey)
	}
	if name == "" {
		return Identity{}, IdentityError{Source: src}
	}

	id := Identity{
		name:        name,
		storeKey:    src.StoreKey,
		pointerName: n.PointerName(name),
	}
	if id.storeKey == "" {
		id.storeKey = n.StoreKey(name, src.OverrideNamespace)
	}
	return id, nil
}

// Identity is shorthand for Parse(Source{Name: name}).
func (n Naming) Identity(name string) (Identity, error) {
	return n.Parse(Source{Name: name})
}

// TryParsePointerName returns the identity behind a pointer variable name, or
// false when pointerName is not a pointer.
func (n Naming) TryParsePointerName(pointerName string) (Identity, bool) {
	if !n.IsPointerName(pointerName) {
		return Identity{}, false
	}
	id, err := n.Parse(Source{PointerName: pointerName})
	if err != nil {
		return Identity{}, false
	}
	return id, true
}

// Name returns the lowercase bare name.
func (id Identity) Name() string { return id.name }

// StoreKey returns the namespaced identifier used by the secret store.
func (id Identity) StoreKey() string { return id.storeKey }

// PointerName returns the name of the variable holding the desired version.
func (id Identity) PointerName() string { return id.pointerName }

// EnvName returns the variable that receives the secret value.
func (id Identity) EnvName() string { return strings.ToUpper(id.name) }

// IsZero reports whether id was never parsed.
func (id Identity) IsZero() bool { return id.name == "" }

// Equal compares bare names only.
func (id Identity) Equal(other Identity) bool { return id.name == other.name }

// Compare orders identities by bare name.
func (id Identity) Compare(other Identity) int { return strings.Compare(id.name, other.name) }

func (id Identity) String() string { return id.name }

// SortIdentities sorts ids in place by bare name.
func SortIdentities(ids []Identity) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
}
