package ginternals

import "strings"

const namespacesDir = "refs/namespaces/"

// NamespacePrefix returns the prefix of all the references living in
// the given namespace. Nested namespaces are separated by "/".
// ex. for `foo/bar` returns `refs/namespaces/foo/refs/namespaces/bar/`
func NamespacePrefix(namespace string) string {
	namespace = strings.Trim(namespace, "/")
	if namespace == "" {
		return ""
	}
	prefix := new(strings.Builder)
	for _, part := range strings.Split(namespace, "/") {
		if part == "" {
			continue
		}
		prefix.WriteString(namespacesDir)
		prefix.WriteString(part)
		prefix.WriteByte('/')
	}
	return prefix.String()
}

// NamespacedName returns the name of a reference inside a namespace.
// Only the references under refs/ are namespaced, HEAD and the other
// special references are shared.
func NamespacedName(namespace, name string) string {
	prefix := NamespacePrefix(namespace)
	if prefix == "" || !strings.HasPrefix(name, refsDirName+"/") {
		return name
	}
	return prefix + name
}

// StripNamespace returns the name of a reference as seen from inside
// the namespace. false is returned if the reference doesn't belong to
// the namespace
func StripNamespace(namespace, name string) (string, bool) {
	prefix := NamespacePrefix(namespace)
	if prefix == "" {
		return name, true
	}
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	return strings.TrimPrefix(name, prefix), true
}

// StripReferenceNamespace returns a copy of the reference with its
// name and symbolic target as seen from inside the namespace.
// Names outside of the namespace are left untouched
func StripReferenceNamespace(namespace string, ref *Reference) *Reference {
	cpy := *ref
	if name, ok := StripNamespace(namespace, ref.name); ok {
		cpy.name = name
	}
	if ref.typ == SymbolicReference {
		if target, ok := StripNamespace(namespace, ref.target); ok {
			cpy.target = target
		}
	}
	return &cpy
}
