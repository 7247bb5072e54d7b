package key

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind tags the shape of a Key.
type Kind int

const (
	// KindAbsent is a missing key; canonicalization yields the zero Canonical.
	KindAbsent Kind = iota
	// KindFunc is a deferred key produced by a callable.
	KindFunc
	// KindPair is an (id, variables) key.
	KindPair
	// KindOpaque is a plain string key used as its own identity.
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindFunc:
		return "func"
	case KindPair:
		return "pair"
	case KindOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// Key is a tagged query key. Construct values with Absent, Func, Pair or
// Opaque; the zero Key is an absent key.
type Key struct {
	kind   Kind
	id     string
	vars   map[string]any
	opaque string
	fn     func() (Key, error)
}

// Absent returns the missing key.
func Absent() Key {
	return Key{kind: KindAbsent}
}

// Func returns a deferred key. The callable is invoked during
// canonicalization; an error or panic from it resolves to the absent key.
func Func(fn func() (Key, error)) Key {
	return Key{kind: KindFunc, fn: fn}
}

// Pair returns an (id, variables) key. Variables may be nil.
func Pair(id string, vars map[string]any) Key {
	return Key{kind: KindPair, id: id, vars: vars}
}

// Opaque returns a key whose value is its own identity and group.
func Opaque(value string) Key {
	return Key{kind: KindOpaque, opaque: value}
}

// Kind reports the key's shape tag.
func (k Key) Kind() Kind {
	return k.kind
}

// Canonical is the resolved form of a Key.
//
// Hash uniquely identifies a query (id plus serialized variables). Group is
// the id alone and names the family of queries invalidated together. VarsHash
// is the stable serialization of Vars, empty when there are none. The zero
// Canonical means "no query".
type Canonical struct {
	Kind     Kind
	Hash     string
	Group    string
	VarsHash string
	Vars     map[string]any
}

// IsZero reports whether the canonical form identifies no query.
func (c Canonical) IsZero() bool {
	return c.Hash == ""
}

// maxResolveDepth bounds chains of Func keys returning Func keys.
const maxResolveDepth = 8

// Canonicalize resolves a Key to its Canonical form.
//
// Absent keys, callables that fail, and empty opaque keys all resolve to the
// zero Canonical without error. A Pair with an empty id returns ErrEmptyID;
// unserializable variables return an error wrapping ErrBadVariables.
// Canonicalization is deterministic: logically equal keys always produce the
// same Hash, independent of map insertion order.
func Canonicalize(k Key) (Canonical, error) {
	for depth := 0; k.kind == KindFunc; depth++ {
		if k.fn == nil || depth >= maxResolveDepth {
			return Canonical{}, nil
		}
		resolved, err := invoke(k.fn)
		if err != nil {
			// Resolution failures are not fetch errors; a key that
			// cannot be produced means "no query".
			return Canonical{}, nil
		}
		k = resolved
	}

	switch k.kind {
	case KindAbsent:
		return Canonical{}, nil

	case KindPair:
		if k.id == "" {
			return Canonical{}, ErrEmptyID
		}
		if len(k.vars) == 0 {
			return Canonical{Kind: KindPair, Hash: k.id, Group: k.id}, nil
		}
		serialized, err := canonicalJSON(k.vars)
		if err != nil {
			return Canonical{}, fmt.Errorf("%w: %v", ErrBadVariables, err)
		}
		varsHash := string(serialized)
		return Canonical{
			Kind:     KindPair,
			Hash:     k.id + "_" + varsHash,
			Group:    k.id,
			VarsHash: varsHash,
			Vars:     k.vars,
		}, nil

	case KindOpaque:
		if k.opaque == "" {
			return Canonical{}, nil
		}
		return Canonical{Kind: KindOpaque, Hash: k.opaque, Group: k.opaque}, nil

	default:
		return Canonical{}, nil
	}
}

// invoke calls a key-producing function, converting panics into errors so a
// misbehaving callable degrades to the absent key.
func invoke(fn func() (Key, error)) (k Key, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("key: callable panicked: %v", r)
		}
	}()
	return fn()
}

// canonicalJSON produces a deterministic JSON representation of the value.
// Object keys are sorted lexicographically at every nesting level.
func canonicalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalObject(val)
	case []any:
		return canonicalArray(val)
	default:
		// encoding/json already sorts keys of map types; everything
		// else serializes deterministically on its own.
		return json.Marshal(v)
	}
}

func canonicalObject(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalJSON(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalArray(s []any) ([]byte, error) {
	result := []byte{'['}
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalJSON(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}
