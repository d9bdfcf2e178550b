package main

import "testing"

func TestAMF0ObjectPreservesInsertionOrder(t *testing.T) {
	o := newAMF0Object()
	o.Set("z", createAMF0String("first"))
	o.Set("a", createAMF0String("second"))
	o.Set("m", createAMF0String("third"))

	keys := o.Keys()
	expected := []string{"z", "a", "m"}
	if len(keys) != len(expected) {
		t.Fatalf("expected %d keys, got %d", len(expected), len(keys))
	}
	for i, k := range expected {
		if keys[i] != k {
			t.Fatalf("expected key %d to be %q, got %q", i, k, keys[i])
		}
	}
}

func TestAMF0ObjectSetOverwriteKeepsOriginalPosition(t *testing.T) {
	o := newAMF0Object()
	o.Set("a", createAMF0String("1"))
	o.Set("b", createAMF0String("2"))
	o.Set("a", createAMF0String("3"))

	keys := o.Keys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys after overwrite, got %d", len(keys))
	}
	if keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("expected order [a b], got %v", keys)
	}
	if o.Get("a").GetString() != "3" {
		t.Fatalf("expected overwritten value '3', got %q", o.Get("a").GetString())
	}
}

func TestAMF0ObjectRoundTripPreservesKeyOrder(t *testing.T) {
	o := newAMF0Object()
	o.Set("level", createAMF0String("status"))
	o.Set("code", createAMF0String("NetStream.Publish.Start"))
	o.Set("description", createAMF0String("started publishing"))

	encoded := amf0EncodeObject(o)

	stream := &AMFDecodingStream{buffer: encoded}
	decoded := stream.ReadObject()

	if !stream.IsEnded() {
		t.Fatalf("expected stream fully consumed after ReadObject, %d bytes left", len(stream.buffer)-stream.pos)
	}

	expectedKeys := o.Keys()
	decodedKeys := decoded.Keys()
	if len(decodedKeys) != len(expectedKeys) {
		t.Fatalf("expected %d keys, got %d", len(expectedKeys), len(decodedKeys))
	}
	for i, k := range expectedKeys {
		if decodedKeys[i] != k {
			t.Fatalf("expected key %d to be %q, got %q", i, k, decodedKeys[i])
		}
		if decoded.Get(k).GetString() != o.Get(k).GetString() {
			t.Fatalf("value mismatch for key %q: expected %q, got %q", k, o.Get(k).GetString(), decoded.Get(k).GetString())
		}
	}
}

// Regression test: ReadObject must consume the trailing terminator byte so
// that a subsequent sequential read off the same buffer (as HandleInvoke
// does for command arguments following the command object) lands on the
// next value instead of re-reading the terminator as a bogus marker.
func TestReadObjectConsumesTerminatorLeavingStreamAlignedForNextRead(t *testing.T) {
	var buf []byte
	buf = append(buf, amf0EncodeObject(func() *AMF0Object {
		o := newAMF0Object()
		o.Set("app", createAMF0String("live"))
		return o
	}())...)
	buf = append(buf, amf0EncodeOne(*createAMF0Number(42))...)

	stream := &AMFDecodingStream{buffer: buf}
	_ = stream.ReadObject()

	if stream.IsEnded() {
		t.Fatalf("expected a trailing number value still unread")
	}

	next := stream.ReadOne()
	if next.amf_type != AMF0_TYPE_NUMBER {
		t.Fatalf("expected next value to be AMF0_TYPE_NUMBER, got 0x%02x", next.amf_type)
	}
	if next.GetDouble() != 42 {
		t.Fatalf("expected decoded number 42, got %f", next.GetDouble())
	}
	if !stream.IsEnded() {
		t.Fatalf("expected stream fully consumed")
	}
}

func TestAMF0EncodeDecodeNumberBoolString(t *testing.T) {
	cases := []*AMF0Value{
		createAMF0Number(3.14159),
		createAMF0Bool(true),
		createAMF0Bool(false),
		createAMF0String("hello rtmp"),
	}

	for _, v := range cases {
		encoded := amf0EncodeOne(*v)
		stream := &AMFDecodingStream{buffer: encoded}
		decoded := stream.ReadOne()

		if decoded.amf_type != v.amf_type {
			t.Fatalf("expected type 0x%02x, got 0x%02x", v.amf_type, decoded.amf_type)
		}
		switch v.amf_type {
		case AMF0_TYPE_NUMBER:
			if decoded.GetDouble() != v.GetDouble() {
				t.Fatalf("expected number %f, got %f", v.GetDouble(), decoded.GetDouble())
			}
		case AMF0_TYPE_BOOL:
			if decoded.GetBool() != v.GetBool() {
				t.Fatalf("expected bool %v, got %v", v.GetBool(), decoded.GetBool())
			}
		case AMF0_TYPE_STRING:
			if decoded.GetString() != v.GetString() {
				t.Fatalf("expected string %q, got %q", v.GetString(), decoded.GetString())
			}
		}
		if !stream.IsEnded() {
			t.Fatalf("expected stream fully consumed for type 0x%02x", v.amf_type)
		}
	}
}

func TestAMF0ReadOneUnknownMarkerPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on unknown AMF0 marker")
		}
	}()

	stream := &AMFDecodingStream{buffer: []byte{0xFE}}
	stream.ReadOne()
}

func TestAMF0NestedObjectRoundTrip(t *testing.T) {
	inner := newAMF0Object()
	inner.Set("width", createAMF0Number(1920))
	inner.Set("height", createAMF0Number(1080))

	innerVal := createAMF0Value(AMF0_TYPE_OBJECT)
	innerVal.obj_val = inner

	outer := newAMF0Object()
	outer.Set("app", createAMF0String("live"))
	outer.Set("video", &innerVal)

	encoded := amf0EncodeObject(outer)
	stream := &AMFDecodingStream{buffer: encoded}
	decoded := stream.ReadObject()

	videoVal := decoded.Get("video")
	if videoVal == nil {
		t.Fatalf("expected nested 'video' key to survive round trip")
	}
	nested := videoVal.GetObject()
	if nested.Get("width").GetDouble() != 1920 || nested.Get("height").GetDouble() != 1080 {
		t.Fatalf("nested object values did not survive round trip")
	}
}
