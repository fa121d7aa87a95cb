package shaderfile

import "hash/fnv"

// HashName computes the FNV-1a 64-bit hash used as the lookup key for
// every name in a ShaderFile (buffer, var, resource) and by materials and
// the pipeline cache when resolving bindings by name. hash/fnv's 64a
// variant is bit-for-bit the algorithm named in §4.A (offset basis
// 14695981039346656037, prime 1099511628211), so this wraps the standard
// library implementation rather than hand-rolling it.
func HashName(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}
