package taskgraph

import (
	"context"
	"sort"
)

// Future is the abstract handle for a value produced now or later by the
// graph. It is a closed/sealed interface: the only implementations are the
// ones in this package (*Task, *Const, *FutureList, *FutureDict,
// *MappedFuture). The unexported methods prevent other packages from minting
// new variants, mirroring the tagged union {Task | Const | List | Dict |
// Mapped} this model is built around. Every variant is constructed behind a
// pointer so that Future values have the object identity the graph builder
// keys on: building the same Const twice yields two distinct vertices, but
// threading one Const reference through two attributes yields one.
type Future interface {
	// upstreams returns the set of Futures this one directly depends on.
	upstreams() []Future
	// resolve returns this Future's value. It is only legal to call once
	// every upstream has itself resolved.
	resolve(ctx context.Context, values map[Future]any) (any, error)
	// identityFragment returns the bytes this Future contributes to an
	// argument record that references it.
	identityFragment() []byte
	// futureLabel is a short human-readable tag used in error messages and
	// in deterministic ordering of aggregate members.
	futureLabel() string
}

// Const is a trivial Future wrapping a literal value. It is never cached and
// contributes its value's canonical bytes to any identity that references it.
type Const struct {
	value any
}

// NewConst wraps a literal value as a Future.
func NewConst(value any) *Const {
	return &Const{value: value}
}

func (c *Const) upstreams() []Future { return nil }

func (c *Const) resolve(context.Context, map[Future]any) (any, error) {
	return c.value, nil
}

func (c *Const) identityFragment() []byte {
	buf := newCanonWriter()
	if err := buf.encode(c.value); err != nil {
		// NewConst does not validate its value; if a caller hands us
		// something unrepresentable we append a null tag instead, so the
		// digest is still computed rather than panicking.
		buf.writeTag(tagNull)
	}
	return wrapFuture("const", buf.bytes())
}

func (c *Const) futureLabel() string { return "const" }

// FutureList is an ordered aggregate of Futures. It neither caches nor
// executes: it expands to its members as upstreams and resolves to a []any
// gathered in order.
type FutureList struct {
	items []Future
}

// NewFutureList builds an aggregate over an ordered sequence of Futures.
func NewFutureList(items ...Future) *FutureList {
	cp := make([]Future, len(items))
	copy(cp, items)
	return &FutureList{items: cp}
}

func (l *FutureList) upstreams() []Future { return l.items }

func (l *FutureList) resolve(_ context.Context, values map[Future]any) (any, error) {
	out := make([]any, len(l.items))
	for i, it := range l.items {
		out[i] = values[it]
	}
	return out, nil
}

func (l *FutureList) identityFragment() []byte {
	buf := newCanonWriter()
	buf.writeTag(tagSeq)
	buf.writeUvarint(uint64(len(l.items)))
	for _, it := range l.items {
		buf.writeLenPrefixed(it.identityFragment())
	}
	return wrapFuture("list", buf.bytes())
}

func (l *FutureList) futureLabel() string { return "list" }

// FutureDict is a key-ordered aggregate of Futures keyed by string. It
// resolves to a map[string]any gathered from its resolved members.
type FutureDict struct {
	keys  []string
	items map[string]Future
}

// NewFutureDict builds an aggregate over a key->Future mapping.
func NewFutureDict(items map[string]Future) *FutureDict {
	keys := make([]string, 0, len(items))
	cp := make(map[string]Future, len(items))
	for k, v := range items {
		keys = append(keys, k)
		cp[k] = v
	}
	sort.Strings(keys)
	return &FutureDict{keys: keys, items: cp}
}

func (d *FutureDict) upstreams() []Future {
	out := make([]Future, 0, len(d.keys))
	for _, k := range d.keys {
		out = append(out, d.items[k])
	}
	return out
}

func (d *FutureDict) resolve(_ context.Context, values map[Future]any) (any, error) {
	out := make(map[string]any, len(d.items))
	for k, f := range d.items {
		out[k] = values[f]
	}
	return out, nil
}

func (d *FutureDict) identityFragment() []byte {
	buf := newCanonWriter()
	buf.writeTag(tagMap)
	buf.writeUvarint(uint64(len(d.keys)))
	for _, k := range d.keys {
		buf.writeLenPrefixed([]byte(k))
		buf.writeLenPrefixed(d.items[k].identityFragment())
	}
	return wrapFuture("dict", buf.bytes())
}

func (d *FutureDict) futureLabel() string { return "dict" }

// MappedFuture is a lazy index into a base Future whose resolved value
// supports lookup by the recorded key (a map key or a slice index, both
// carried as the same string-or-int key value). Its identity includes the
// base's identity plus the key, so two index operations over the same base
// with different keys never collide.
type MappedFuture struct {
	base Future
	key  any
}

// Index builds a MappedFuture that resolves to base's resolved value looked
// up (or indexed) by key.
func Index(base Future, key any) *MappedFuture {
	return &MappedFuture{base: base, key: key}
}

func (m *MappedFuture) upstreams() []Future { return []Future{m.base} }

func (m *MappedFuture) resolve(_ context.Context, values map[Future]any) (any, error) {
	container := values[m.base]
	switch k := m.key.(type) {
	case string:
		mp, ok := container.(map[string]any)
		if !ok {
			return nil, &UsageError{Reason: "MappedFuture: base value is not a map[string]any"}
		}
		v, ok := mp[k]
		if !ok {
			return nil, &UsageError{Reason: "MappedFuture: key " + k + " not present in base value"}
		}
		return v, nil
	case int:
		sl, ok := container.([]any)
		if !ok {
			return nil, &UsageError{Reason: "MappedFuture: base value is not a []any"}
		}
		if k < 0 || k >= len(sl) {
			return nil, &UsageError{Reason: "MappedFuture: index out of range"}
		}
		return sl[k], nil
	default:
		return nil, &UsageError{Reason: "MappedFuture: key must be a string or int"}
	}
}

func (m *MappedFuture) identityFragment() []byte {
	buf := newCanonWriter()
	buf.writeTag(tagMapped)
	buf.writeLenPrefixed(m.base.identityFragment())
	if err := buf.encode(m.key); err != nil {
		buf.writeTag(tagNull)
	}
	return wrapFuture("mapped", buf.bytes())
}

func (m *MappedFuture) futureLabel() string { return "mapped" }

// wrapFuture frames a Future's identity fragment with its kind tag so that,
// e.g., a Const holding the bytes of a Task's identity can never collide
// with that Task's own identity fragment.
func wrapFuture(kind string, body []byte) []byte {
	buf := newCanonWriter()
	buf.writeLenPrefixed([]byte(kind))
	buf.writeLenPrefixed(body)
	return buf.bytes()
}
