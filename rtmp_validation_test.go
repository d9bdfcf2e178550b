package main

import "testing"

func TestValidateStreamIDStringRejectsEmpty(t *testing.T) {
	if validateStreamIDString("", 64) {
		t.Fatalf("expected empty string to be rejected")
	}
}

func TestValidateStreamIDStringRejectsTooLong(t *testing.T) {
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	if validateStreamIDString(string(long), 64) {
		t.Fatalf("expected string longer than max length to be rejected")
	}
}

func TestValidateStreamIDStringNoLimitWhenZero(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'a'
	}
	if !validateStreamIDString(string(long), 0) {
		t.Fatalf("expected no length limit applied when maxLength is 0")
	}
}

func TestValidateStreamIDStringRejectsPathTraversalChars(t *testing.T) {
	cases := []string{"../etc/passwd", "a/b", "a\\b", "a?b", "a#b"}
	for _, c := range cases {
		if validateStreamIDString(c, 64) {
			t.Fatalf("expected %q to be rejected as an unsafe stream id", c)
		}
	}
}

func TestValidateStreamIDStringAcceptsOrdinaryKey(t *testing.T) {
	if !validateStreamIDString("my-stream_key.123", 64) {
		t.Fatalf("expected ordinary alphanumeric key to be accepted")
	}
}

func TestGetRTMPParamsSimpleParsesPairs(t *testing.T) {
	params := getRTMPParamsSimple("cache=no&token=abc123")

	if params["cache"] != "no" {
		t.Fatalf("expected cache=no, got %q", params["cache"])
	}
	if params["token"] != "abc123" {
		t.Fatalf("expected token=abc123, got %q", params["token"])
	}
	if len(params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(params))
	}
}

func TestGetRTMPParamsSimpleIgnoresValuelessEntries(t *testing.T) {
	params := getRTMPParamsSimple("valid=1&novalue&another=2")

	if len(params) != 2 {
		t.Fatalf("expected only well-formed pairs to be kept, got %d entries: %v", len(params), params)
	}
	if params["valid"] != "1" || params["another"] != "2" {
		t.Fatalf("expected valid and another to be parsed, got %v", params)
	}
	if _, ok := params["novalue"]; ok {
		t.Fatalf("expected 'novalue' entry with no '=' to be dropped")
	}
}

func TestGetRTMPParamsSimpleEmptyQuery(t *testing.T) {
	params := getRTMPParamsSimple("")
	if len(params) != 0 {
		t.Fatalf("expected no params for empty query, got %d", len(params))
	}
}

func TestGetRTMPParamsSimpleValueContainingEquals(t *testing.T) {
	params := getRTMPParamsSimple("token=abc=def")
	if params["token"] != "abc=def" {
		t.Fatalf("expected value to retain embedded '=', got %q", params["token"])
	}
}
