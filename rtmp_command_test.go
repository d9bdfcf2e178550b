package main

import "testing"

func buildPublishCommandPayload() []byte {
	var buf []byte
	buf = append(buf, amf0EncodeOne(*createAMF0String("publish"))...)
	buf = append(buf, amf0EncodeOne(*createAMF0Number(3))...)

	cmdObj := createAMF0Value(AMF0_TYPE_NULL)
	buf = append(buf, amf0EncodeOne(cmdObj)...)

	buf = append(buf, amf0EncodeOne(*createAMF0String("mystream"))...)
	buf = append(buf, amf0EncodeOne(*createAMF0String("live"))...)
	return buf
}

func TestDecodeRTMPCommandAssignsNamedPositionalArgs(t *testing.T) {
	cmd := decodeRTMPCommand(buildPublishCommandPayload())

	if cmd.cmd != "publish" {
		t.Fatalf("expected command name 'publish', got %q", cmd.cmd)
	}
	if cmd.GetArg("transId").GetDouble() != 3 {
		t.Fatalf("expected transId 3, got %f", cmd.GetArg("transId").GetDouble())
	}
	if cmd.GetArg("streamName").GetString() != "mystream" {
		t.Fatalf("expected streamName 'mystream', got %q", cmd.GetArg("streamName").GetString())
	}
	if cmd.GetArg("type").GetString() != "live" {
		t.Fatalf("expected type 'live', got %q", cmd.GetArg("type").GetString())
	}
}

func TestDecodeRTMPCommandUnknownCommandUsesArgNFallback(t *testing.T) {
	var buf []byte
	buf = append(buf, amf0EncodeOne(*createAMF0String("customCommand"))...)
	buf = append(buf, amf0EncodeOne(*createAMF0Number(1))...)
	nullObj := createAMF0Value(AMF0_TYPE_NULL)
	buf = append(buf, amf0EncodeOne(nullObj)...)
	buf = append(buf, amf0EncodeOne(*createAMF0String("first"))...)
	buf = append(buf, amf0EncodeOne(*createAMF0String("second"))...)

	cmd := decodeRTMPCommand(buf)

	if cmd.GetArg("arg0").GetString() != "first" {
		t.Fatalf("expected arg0 'first', got %q", cmd.GetArg("arg0").GetString())
	}
	if cmd.GetArg("arg1").GetString() != "second" {
		t.Fatalf("expected arg1 'second', got %q", cmd.GetArg("arg1").GetString())
	}
}

func TestGetArgMissingReturnsUndefined(t *testing.T) {
	cmd := decodeRTMPCommand(buildPublishCommandPayload())
	v := cmd.GetArg("doesNotExist")
	if !v.IsUndefined() {
		t.Fatalf("expected undefined value for missing arg")
	}
}

func TestRTMPCommandEncodeRoundTrip(t *testing.T) {
	cmd := RTMPCommand{cmd: "onStatus", arguments: make(map[string]*AMF0Value)}
	transId := createAMF0Number(0)
	cmd.arguments["transId"] = transId

	info := newAMF0Object()
	info.Set("level", createAMF0String("status"))
	info.Set("code", createAMF0String("NetStream.Publish.Start"))
	infoVal := createAMF0Value(AMF0_TYPE_OBJECT)
	infoVal.obj_val = info
	cmd.arguments["info"] = &infoVal

	encoded := cmd.Encode()

	decoded := decodeRTMPCommand(encoded)
	if decoded.cmd != "onStatus" {
		t.Fatalf("expected decoded command 'onStatus', got %q", decoded.cmd)
	}
	if decoded.GetArg("transId").GetDouble() != 0 {
		t.Fatalf("expected transId 0, got %f", decoded.GetArg("transId").GetDouble())
	}
}

func TestDecodeRTMPDataOnMetaData(t *testing.T) {
	var buf []byte
	buf = append(buf, amf0EncodeOne(*createAMF0String("@setDataFrame"))...)
	buf = append(buf, amf0EncodeOne(*createAMF0String("onMetaData"))...)

	meta := newAMF0Object()
	meta.Set("width", createAMF0Number(1280))
	meta.Set("height", createAMF0Number(720))
	metaVal := createAMF0Value(AMF0_TYPE_OBJECT)
	metaVal.obj_val = meta
	buf = append(buf, amf0EncodeOne(metaVal)...)

	data := decodeRTMPData(buf)

	if data.tag != "@setDataFrame" {
		t.Fatalf("expected tag '@setDataFrame', got %q", data.tag)
	}

	obj := data.GetArg("dataObj").GetObject()
	if obj.Get("width").GetDouble() != 1280 || obj.Get("height").GetDouble() != 720 {
		t.Fatalf("expected metadata width/height to survive decode")
	}
}

func TestRTMPDataEncodeOnMetaDataRoundTrip(t *testing.T) {
	meta := newAMF0Object()
	meta.Set("duration", createAMF0Number(0))
	meta.Set("framerate", createAMF0Number(30))
	metaVal := createAMF0Value(AMF0_TYPE_OBJECT)
	metaVal.obj_val = meta

	data := RTMPData{tag: "onMetaData", arguments: map[string]*AMF0Value{"dataObj": &metaVal}}
	encoded := data.Encode()

	decoded := decodeRTMPData(encoded)
	if decoded.tag != "onMetaData" {
		t.Fatalf("expected tag 'onMetaData', got %q", decoded.tag)
	}
	obj := decoded.GetArg("dataObj").GetObject()
	if obj.Get("framerate").GetDouble() != 30 {
		t.Fatalf("expected framerate 30, got %f", obj.Get("framerate").GetDouble())
	}
}
