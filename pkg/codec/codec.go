// Package codec converts call values to and from the transport envelope: a
// JSON metadata tree in which binary leaves and dates are replaced by
// markers, plus an ordered list of binary parts.
package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"
)

const logPrefix = "codec:codec"

// Reserved marker keys. An object whose only key is one of these is a marker.
const (
	KeyBuf  = "__buf"
	KeyDate = "__date"
	KeyObj  = "__obj"
)

// BlobPrefix names raw byte parts; file parts keep their own name.
const BlobPrefix = "__blob_"

// DefaultFileName names a File encoded without a name.
const DefaultFileName = "file"

// File is a named binary leaf.
type File struct {
	Name string
	Data []byte
}

// Part is one binary part of an envelope.
type Part struct {
	Name string `json:"name" cbor:"name"`
	Data []byte `json:"data" cbor:"data"`
}

// Envelope is the transport form of a value.
type Envelope struct {
	Meta  json.RawMessage `json:"meta"`
	Blobs []Part          `json:"blobs,omitempty"`
}

// Error reports a value that cannot be encoded or an envelope that cannot be decoded.
type Error struct {
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s - %s", logPrefix, e.Message)
	}
	return fmt.Sprintf("%s - %s at %s", logPrefix, e.Message, e.Path)
}

func errorf(path, format string, args ...any) *Error {
	return &Error{Path: path, Message: fmt.Sprintf(format, args...)}
}

var timeType = reflect.TypeOf(time.Time{})

// Encode walks v and produces its envelope. Byte slices and files become
// {"__buf": i} markers, times become {"__date": iso}, and user objects that
// carry a reserved key are wrapped in {"__obj": ...} so they never read back
// as markers. Structs are projected through encoding/json. Channels, funcs,
// complex numbers and non-finite floats are rejected.
func Encode(v any) (*Envelope, error) {
	enc := &encoder{}
	tree, err := enc.walk(v, "$")
	if err != nil {
		return nil, err
	}
	meta, err := json.Marshal(tree)
	if err != nil {
		return nil, errorf("$", "marshal meta: %v", err)
	}
	return &Envelope{Meta: meta, Blobs: enc.blobs}, nil
}

type encoder struct {
	blobs []Part
}

func (e *encoder) addPart(name string, data []byte) map[string]any {
	idx := len(e.blobs)
	if name == "" {
		name = BlobPrefix + strconv.Itoa(idx)
	}
	if data == nil {
		data = []byte{}
	}
	e.blobs = append(e.blobs, Part{Name: name, Data: data})
	return map[string]any{KeyBuf: idx}
}

// addFile keeps a file-like blob distinguishable from raw bytes: nameless
// files get DefaultFileName and reserved names are refused.
func (e *encoder) addFile(f File, path string) (any, error) {
	name := f.Name
	if name == "" {
		name = DefaultFileName
	}
	if isBlobName(name) {
		return nil, errorf(path, "file name %q uses the reserved prefix %s", name, BlobPrefix)
	}
	return e.addPart(name, f.Data), nil
}

func (e *encoder) walk(v any, path string) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool, string, json.Number:
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, errorf(path, "non-finite number")
		}
		return x, nil
	case float32:
		return e.walk(float64(x), path)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x, nil
	case []byte:
		return e.addPart("", x), nil
	case File:
		return e.addFile(x, path)
	case *File:
		if x == nil {
			return nil, nil
		}
		return e.addFile(*x, path)
	case time.Time:
		return map[string]any{KeyDate: x.UTC().Format(time.RFC3339Nano)}, nil
	case json.RawMessage:
		return e.walkJSON(x, path)
	case map[string]any:
		return e.walkMap(x, path)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			w, err := e.walk(item, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	}
	return e.walkReflect(reflect.ValueOf(v), path)
}

func (e *encoder) walkMap(m map[string]any, path string) (any, error) {
	out := make(map[string]any, len(m))
	reserved := false
	for k, item := range m {
		if isReserved(k) {
			reserved = true
		}
		w, err := e.walk(item, path+"."+k)
		if err != nil {
			return nil, err
		}
		out[k] = w
	}
	if reserved {
		return map[string]any{KeyObj: out}, nil
	}
	return out, nil
}

func (e *encoder) walkJSON(raw []byte, path string) (any, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, errorf(path, "invalid json: %v", err)
	}
	return e.walk(generic, path)
}

func (e *encoder) walkReflect(rv reflect.Value, path string) (any, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return e.walk(rv.Elem().Interface(), path)
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return e.walk(rv.Float(), path)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			data := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(data), rv)
			return e.addPart("", data), nil
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			w, err := e.walk(rv.Index(i).Interface(), path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, errorf(path, "unsupported map key type %s", rv.Type().Key())
		}
		if rv.IsNil() {
			return nil, nil
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return e.walkMap(m, path)
	case reflect.Struct:
		if rv.Type() == timeType {
			return e.walk(rv.Interface(), path)
		}
		raw, err := json.Marshal(rv.Interface())
		if err != nil {
			return nil, errorf(path, "project %s: %v", rv.Type(), err)
		}
		return e.walkJSON(raw, path)
	}
	return nil, errorf(path, "unsupported value of type %s", rv.Type())
}

func isReserved(k string) bool {
	return k == KeyBuf || k == KeyDate || k == KeyObj
}

// Decode rebuilds the value tree described by env. Numbers decode as float64.
func Decode(env *Envelope) (any, error) {
	if env == nil || len(env.Meta) == 0 {
		return nil, errorf("", "empty envelope")
	}
	var tree any
	if err := json.Unmarshal(env.Meta, &tree); err != nil {
		return nil, errorf("$", "invalid meta: %v", err)
	}
	d := &decoder{blobs: env.Blobs}
	return d.walk(tree, "$")
}

type decoder struct {
	blobs []Part
}

func (d *decoder) walk(v any, path string) (any, error) {
	switch x := v.(type) {
	case []any:
		for i, item := range x {
			w, err := d.walk(item, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			x[i] = w
		}
		return x, nil
	case map[string]any:
		if len(x) == 1 {
			if raw, ok := x[KeyBuf]; ok {
				return d.buf(raw, path)
			}
			if raw, ok := x[KeyDate]; ok {
				return date(raw, path)
			}
			if raw, ok := x[KeyObj]; ok {
				inner, ok := raw.(map[string]any)
				if !ok {
					return nil, errorf(path, "%s marker must wrap an object", KeyObj)
				}
				return d.walkFields(inner, path)
			}
		}
		return d.walkFields(x, path)
	}
	return v, nil
}

func (d *decoder) walkFields(m map[string]any, path string) (any, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w, err := d.walk(m[k], path+"."+k)
		if err != nil {
			return nil, err
		}
		m[k] = w
	}
	return m, nil
}

func (d *decoder) buf(raw any, path string) (any, error) {
	f, ok := raw.(float64)
	if !ok || f != math.Trunc(f) || f < 0 || f >= float64(len(d.blobs)) {
		return nil, errorf(path, "%s marker %v has no matching part", KeyBuf, raw)
	}
	part := d.blobs[int(f)]
	if part.Name == "" || isBlobName(part.Name) {
		return part.Data, nil
	}
	return &File{Name: part.Name, Data: part.Data}, nil
}

func date(raw any, path string) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, errorf(path, "%s marker must be a string", KeyDate)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, errorf(path, "invalid date %q: %v", s, err)
	}
	return t.UTC(), nil
}

func isBlobName(name string) bool {
	return len(name) >= len(BlobPrefix) && name[:len(BlobPrefix)] == BlobPrefix
}

// SingleBlob reports whether env is exactly one binary part at the root, the
// shape transports may send as a raw octet stream.
func (env *Envelope) SingleBlob() (Part, bool) {
	if env == nil || len(env.Blobs) != 1 {
		return Part{}, false
	}
	var marker map[string]json.Number
	dec := json.NewDecoder(bytesReader(env.Meta))
	dec.UseNumber()
	if err := dec.Decode(&marker); err != nil || len(marker) != 1 {
		return Part{}, false
	}
	if n, ok := marker[KeyBuf]; !ok || n.String() != "0" {
		return Part{}, false
	}
	return env.Blobs[0], true
}
