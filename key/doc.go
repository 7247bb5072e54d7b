// Package key canonicalizes user-supplied query keys into stable hashes.
//
// A key identifies one logical resource. Keys come in four shapes: absent,
// deferred (a callable producing another key), an (id, variables) pair, or an
// opaque string. Canonicalize reduces any of them to a Canonical value whose
// Hash is deterministic for logically equal inputs, regardless of map
// insertion order.
package key
