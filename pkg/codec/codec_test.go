package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	when := time.Date(2024, 3, 9, 12, 30, 0, 500, time.UTC)
	tests := []struct {
		name  string
		value any
	}{
		{"null", nil},
		{"string", "hello"},
		{"number", float64(42)},
		{"bool", true},
		{"bytes", []byte{1, 2, 3}},
		{"empty bytes", []byte{}},
		{"date", when},
		{"file", &File{Name: "report.pdf", Data: []byte("%PDF")}},
		{"nested", map[string]any{
			"a":    []any{float64(1), "x", []byte("blob")},
			"when": when,
			"deep": map[string]any{"f": &File{Name: "a.txt", Data: []byte("a")}},
		}},
		{"reserved key object", map[string]any{"__buf": float64(0), "other": "v"}},
		{"reserved only key", map[string]any{"__date": "not a date"}},
		{"wrapped lookalike", map[string]any{"__obj": map[string]any{"k": "v"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Encode(tt.value)
			if err != nil {
				t.Fatalf("codec:codec_test - encode failed: %v", err)
			}
			got, err := Decode(env)
			if err != nil {
				t.Fatalf("codec:codec_test - decode failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.value) {
				t.Errorf("codec:codec_test - round trip mismatch\n got: %#v\nwant: %#v", got, tt.value)
			}
		})
	}
}

func TestEncode_Markers(t *testing.T) {
	env, err := Encode([]any{[]byte("a"), &File{Name: "b.bin", Data: []byte("b")}})
	if err != nil {
		t.Fatalf("codec:codec_test - encode failed: %v", err)
	}
	if string(env.Meta) != `[{"__buf":0},{"__buf":1}]` {
		t.Errorf("codec:codec_test - unexpected meta %s", env.Meta)
	}
	if len(env.Blobs) != 2 {
		t.Fatalf("codec:codec_test - expected 2 blobs, got %d", len(env.Blobs))
	}
	if env.Blobs[0].Name != "__blob_0" {
		t.Errorf("codec:codec_test - expected __blob_0, got %s", env.Blobs[0].Name)
	}
	if env.Blobs[1].Name != "b.bin" {
		t.Errorf("codec:codec_test - expected b.bin, got %s", env.Blobs[1].Name)
	}
}

func TestEncode_ReservedKeyIsWrapped(t *testing.T) {
	env, err := Encode(map[string]any{"__buf": float64(3)})
	if err != nil {
		t.Fatalf("codec:codec_test - encode failed: %v", err)
	}
	if string(env.Meta) != `{"__obj":{"__buf":3}}` {
		t.Errorf("codec:codec_test - unexpected meta %s", env.Meta)
	}
	if len(env.Blobs) != 0 {
		t.Errorf("codec:codec_test - expected no blobs, got %d", len(env.Blobs))
	}
}

func TestEncode_Structs(t *testing.T) {
	type point struct {
		X int    `json:"x"`
		Y string `json:"y"`
	}
	env, err := Encode(point{X: 1, Y: "two"})
	if err != nil {
		t.Fatalf("codec:codec_test - encode failed: %v", err)
	}
	got, err := Decode(env)
	if err != nil {
		t.Fatalf("codec:codec_test - decode failed: %v", err)
	}
	want := map[string]any{"x": float64(1), "y": "two"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("codec:codec_test - got %#v, want %#v", got, want)
	}
}

func TestEncode_TypedSlicesAndMaps(t *testing.T) {
	env, err := Encode(map[string][]int{"n": {1, 2}})
	if err != nil {
		t.Fatalf("codec:codec_test - encode failed: %v", err)
	}
	if string(env.Meta) != `{"n":[1,2]}` {
		t.Errorf("codec:codec_test - unexpected meta %s", env.Meta)
	}
}

func TestEncode_RejectsUnknownLeaves(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"channel", make(chan int)},
		{"func", func() {}},
		{"complex", complex(1, 2)},
		{"nan", math.NaN()},
		{"inf", math.Inf(1)},
		{"int keyed map", map[int]string{1: "a"}},
		{"nested channel", map[string]any{"c": []any{make(chan int)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.value)
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("codec:codec_test - expected *Error, got %v", err)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  *Envelope
	}{
		{"nil", nil},
		{"empty meta", &Envelope{}},
		{"invalid json", &Envelope{Meta: json.RawMessage(`{`)}},
		{"missing part", &Envelope{Meta: json.RawMessage(`{"__buf":1}`), Blobs: []Part{{Name: "__blob_0"}}}},
		{"fractional index", &Envelope{Meta: json.RawMessage(`{"__buf":0.5}`), Blobs: []Part{{Name: "__blob_0"}}}},
		{"huge index", &Envelope{Meta: json.RawMessage(`{"__buf":1e300}`), Blobs: []Part{{Name: "__blob_0"}}}},
		{"index past int64", &Envelope{Meta: json.RawMessage(`{"__buf":1e19}`), Blobs: []Part{{Name: "__blob_0"}}}},
		{"negative index", &Envelope{Meta: json.RawMessage(`{"__buf":-1}`), Blobs: []Part{{Name: "__blob_0"}}}},
		{"bad date", &Envelope{Meta: json.RawMessage(`{"__date":"yesterday"}`)}},
		{"obj not object", &Envelope{Meta: json.RawMessage(`{"__obj":1}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.env); err == nil {
				t.Error("codec:codec_test - expected error, got nil")
			}
		})
	}
}

func TestEncode_FileNames(t *testing.T) {
	env, err := Encode(&File{Data: []byte("x")})
	if err != nil {
		t.Fatalf("codec:codec_test - encode failed: %v", err)
	}
	got, err := Decode(env)
	if err != nil {
		t.Fatalf("codec:codec_test - decode failed: %v", err)
	}
	f, ok := got.(*File)
	if !ok || f.Name != DefaultFileName || string(f.Data) != "x" {
		t.Errorf("codec:codec_test - expected a named file back, got %#v", got)
	}

	if _, err := Encode(File{Name: BlobPrefix + "3", Data: []byte("x")}); err == nil {
		t.Error("codec:codec_test - expected reserved file name to be rejected")
	}
}

func TestDecode_MultiKeyObjectIsLiteral(t *testing.T) {
	got, err := Decode(&Envelope{Meta: json.RawMessage(`{"__buf":0,"x":1}`)})
	if err != nil {
		t.Fatalf("codec:codec_test - decode failed: %v", err)
	}
	want := map[string]any{"__buf": float64(0), "x": float64(1)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("codec:codec_test - got %#v, want %#v", got, want)
	}
}

func TestSingleBlob(t *testing.T) {
	env, _ := Encode([]byte("raw"))
	part, ok := env.SingleBlob()
	if !ok {
		t.Fatal("codec:codec_test - expected single blob")
	}
	if !bytes.Equal(part.Data, []byte("raw")) {
		t.Errorf("codec:codec_test - unexpected data %q", part.Data)
	}

	env, _ = Encode([]any{[]byte("raw")})
	if _, ok := env.SingleBlob(); ok {
		t.Error("codec:codec_test - array holding a blob is not a single blob")
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	env, err := Encode(map[string]any{"entry": []any{"hello"}, "data": []byte{9, 8}})
	if err != nil {
		t.Fatalf("codec:codec_test - encode failed: %v", err)
	}
	data, err := MarshalFrame(env)
	if err != nil {
		t.Fatalf("codec:codec_test - marshal frame failed: %v", err)
	}
	back, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("codec:codec_test - unmarshal frame failed: %v", err)
	}
	if !bytes.Equal(back.Meta, env.Meta) {
		t.Errorf("codec:codec_test - meta mismatch: %s vs %s", back.Meta, env.Meta)
	}
	if len(back.Blobs) != 1 || !bytes.Equal(back.Blobs[0].Data, []byte{9, 8}) {
		t.Errorf("codec:codec_test - blobs mismatch: %#v", back.Blobs)
	}

	if _, err := UnmarshalFrame([]byte("not cbor")); err == nil {
		t.Error("codec:codec_test - expected error for garbage frame")
	}
}
