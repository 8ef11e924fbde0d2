package taskgraph

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Args is a task's construction argument record: the set of named values
// the task was built with, excluding anything the engine itself manages.
// Values may be nil, bool, int, int32, int64, float32, float64, string,
// []byte, []any, map[string]any (nested arbitrarily), or any Future; any
// other type (including the other sized integer kinds) is rejected.
type Args map[string]any

const (
	tagNull byte = iota
	tagFalse
	tagTrue
	tagInt
	tagFloat
	tagString
	tagBytes
	tagSeq
	tagMap
	tagMapped
)

// canonWriter accumulates the canonical, framed byte encoding used both for
// task_id digests and for nested Future identity fragments. Every variable-
// length field is length-prefixed so that concatenation can never make two
// distinct structures collide (the "tuple/list collision" this framing is
// required to rule out), following the length-prefixed hashing style used
// elsewhere in the retrieval pack for deterministic definition hashes.
type canonWriter struct {
	buf []byte
}

func newCanonWriter() *canonWriter { return &canonWriter{} }

func (w *canonWriter) bytes() []byte { return w.buf }

func (w *canonWriter) writeTag(t byte) { w.buf = append(w.buf, t) }

func (w *canonWriter) writeUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

func (w *canonWriter) writeLenPrefixed(data []byte) {
	w.writeUvarint(uint64(len(data)))
	w.buf = append(w.buf, data...)
}

// encode appends the canonical framing for an arbitrary argument leaf or
// container. Maps are sorted by key; sequences keep their given order; every
// nested value is written length-prefixed so sibling fields never bleed into
// each other.
func (w *canonWriter) encode(v any) error {
	switch x := v.(type) {
	case nil:
		w.writeTag(tagNull)
	case bool:
		if x {
			w.writeTag(tagTrue)
		} else {
			w.writeTag(tagFalse)
		}
	case int:
		w.writeInt(int64(x))
	case int32:
		w.writeInt(int64(x))
	case int64:
		w.writeInt(x)
	case float32:
		w.writeFloat(float64(x))
	case float64:
		w.writeFloat(x)
	case string:
		w.writeTag(tagString)
		w.writeLenPrefixed([]byte(x))
	case []byte:
		w.writeTag(tagBytes)
		w.writeLenPrefixed(x)
	case []any:
		w.writeTag(tagSeq)
		w.writeUvarint(uint64(len(x)))
		for _, el := range x {
			sub := newCanonWriter()
			if err := sub.encode(el); err != nil {
				return err
			}
			w.writeLenPrefixed(sub.bytes())
		}
	case map[string]any:
		w.writeTag(tagMap)
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w.writeUvarint(uint64(len(keys)))
		for _, k := range keys {
			w.writeLenPrefixed([]byte(k))
			sub := newCanonWriter()
			if err := sub.encode(x[k]); err != nil {
				return err
			}
			w.writeLenPrefixed(sub.bytes())
		}
	case Future:
		w.writeLenPrefixed(x.identityFragment())
	default:
		return fmt.Errorf("unrepresentable argument leaf of type %T", v)
	}
	return nil
}

func (w *canonWriter) writeInt(v int64) {
	w.writeTag(tagInt)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	w.buf = append(w.buf, tmp[:]...)
}

func (w *canonWriter) writeFloat(v float64) {
	w.writeTag(tagFloat)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v))
	w.buf = append(w.buf, tmp[:]...)
}

// taskIdentity derives the deterministic task_id and a human-readable args
// JSON from a task's name and argument record. Any attribute name beginning
// with "task_" is reserved; such a name is rejected here with an
// *ArgumentError.
func taskIdentity(taskName string, args Args) (taskID string, argsJSON []byte, err error) {
	for k := range args {
		if len(k) >= 5 && k[:5] == "task_" {
			return "", nil, &ArgumentError{TaskName: taskName, Reason: "reserved attribute name: " + k}
		}
	}

	w := newCanonWriter()
	w.writeLenPrefixed([]byte(taskName))
	if err := w.encode(map[string]any(args)); err != nil {
		return "", nil, &ArgumentError{TaskName: taskName, Reason: err.Error()}
	}

	h, err := blake2b.New(16, nil)
	if err != nil {
		return "", nil, fmt.Errorf("initialising blake2b: %w", err)
	}
	h.Write(w.bytes())
	taskID = fmt.Sprintf("%x", h.Sum(nil))

	view, err := argsDisplayView(args)
	if err != nil {
		return "", nil, &ArgumentError{TaskName: taskName, Reason: err.Error()}
	}
	argsJSON, err = json.Marshal(view)
	if err != nil {
		return "", nil, fmt.Errorf("marshalling args view: %w", err)
	}
	return taskID, argsJSON, nil
}

// argsDisplayView renders the argument record as a JSON-friendly tree,
// replacing every Future leaf with its {"__future__", "__id__"} record so
// that sequence-vs-mapping framing is a tag field in the rendered JSON, not
// something the reader must infer.
func argsDisplayView(v any) (any, error) {
	switch x := v.(type) {
	case Args:
		return argsDisplayView(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			rendered, err := argsDisplayView(val)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			rendered, err := argsDisplayView(el)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	case *Task:
		return map[string]any{"__future__": x.taskName, "__id__": x.taskID, "__kind__": "task"}, nil
	case *Const:
		return map[string]any{"__future__": "const", "__id__": x.value, "__kind__": "const"}, nil
	case *MappedFuture:
		base, err := argsDisplayView(x.base)
		if err != nil {
			return nil, err
		}
		return map[string]any{"__future__": "mapped", "__id__": map[string]any{"base": base, "key": x.key}, "__kind__": "mapped"}, nil
	case Future:
		return map[string]any{"__future__": x.futureLabel(), "__kind__": "future"}, nil
	default:
		return x, nil
	}
}
