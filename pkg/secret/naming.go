package secret

import (
	"strings"
)

const (
	// NamespaceSeparator joins the namespace and the bare name in a store key.
	NamespaceSeparator = "/"

	// DefaultPointerPrefix prefixes pointer variable names.
	DefaultPointerPrefix = "SECRET_VERSION_ENV_"

	// DefaultStagePrefix prefixes version stage labels.
	DefaultStagePrefix = "CLEO-"
)

// Naming carries the runtime-configurable parts of secret and stage naming.
type Naming struct {
	// Namespace is the process-wide default store namespace. It may be empty,
	// in which case store keys start with the separator.
	Namespace string

	// PointerPrefix prefixes pointer variable names.
	PointerPrefix string

	// StagePrefix prefixes version stage labels written to the store.
	StagePrefix string
}

// DefaultNaming returns a Naming with the default prefixes and no namespace.
func DefaultNaming() Naming {
	return Naming{
		PointerPrefix: DefaultPointerPrefix,
		StagePrefix:   DefaultStagePrefix,
	}
}

// WithNamespace returns a copy of n using namespace as the default.
func (n Naming) WithNamespace(namespace string) Naming {
	n.Namespace = namespace
	return n
}

// StoreKey joins the namespace (override if non-empty, otherwise the default)
// with the lowercase name.
func (n Naming) StoreKey(name, overrideNamespace string) string {
	namespace := n.Namespace
	if overrideNamespace != "" {
		namespace = overrideNamespace
	}
	return namespace + NamespaceSeparator + strings.ToLower(name)
}

// PointerName returns the pointer variable name for a bare name.
func (n Naming) PointerName(name string) string {
	return n.PointerPrefix + strings.ToUpper(name)
}

// IsPointerName reports whether envName carries the pointer prefix.
func (n Naming) IsPointerName(envName string) bool {
	return n.PointerPrefix != "" && strings.HasPrefix(envName, n.PointerPrefix)
}

func (n Naming) nameFromPointer(pointerName string) string {
	if pointerName == "" {
		return ""
	}
	return strings.ToLower(strings.ReplaceAll(pointerName, n.PointerPrefix, ""))
}

func nameFromStoreKey(storeKey string) string {
	if storeKey == "" {
		return ""
	}
	parts := strings.Split(storeKey, NamespaceSeparator)
	return strings.ToLower(parts[len(parts)-1])
}
