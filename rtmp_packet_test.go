package main

import "testing"

func TestRtmpChunkBasicHeaderCreateSizes(t *testing.T) {
	cases := []struct {
		name       string
		fmt        uint32
		cid        uint32
		wantLen    int
		wantFirst  byte
	}{
		{"small cid single byte", RTMP_CHUNK_TYPE_0, 3, 1, byte(3)},
		{"mid range two bytes", RTMP_CHUNK_TYPE_1, 64, 2, byte(1 << 6)},
		{"large range three bytes", RTMP_CHUNK_TYPE_2, 64 + 255, 3, byte(2<<6) | 1},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out := rtmpChunkBasicHeaderCreate(c.fmt, c.cid)
			if len(out) != c.wantLen {
				t.Fatalf("expected header length %d, got %d", c.wantLen, len(out))
			}
			if out[0] != c.wantFirst {
				t.Fatalf("expected first byte 0x%02x, got 0x%02x", c.wantFirst, out[0])
			}
		})
	}
}

func TestCreateChunksSinglePacketNoSplit(t *testing.T) {
	payload := []byte("hello rtmp world")
	packet := createBlankRTMPPacket()
	packet.header.fmt = RTMP_CHUNK_TYPE_0
	packet.header.cid = 3
	packet.header.timestamp = 0
	packet.header.packet_type = RTMP_TYPE_AUDIO
	packet.header.stream_id = 1
	packet.header.length = uint32(len(payload))
	packet.payload = payload

	chunks := packet.CreateChunks(128)

	basicHeader := rtmpChunkBasicHeaderCreate(RTMP_CHUNK_TYPE_0, 3)
	messageHeader := rtmpChunkMessageHeaderCreate(&packet)
	expectedLen := len(basicHeader) + len(messageHeader) + len(payload)

	if len(chunks) != expectedLen {
		t.Fatalf("expected %d bytes, got %d", expectedLen, len(chunks))
	}

	gotPayload := chunks[len(basicHeader)+len(messageHeader):]
	if string(gotPayload) != string(payload) {
		t.Fatalf("expected payload %q, got %q", payload, gotPayload)
	}
}

// With a chunk size smaller than the payload, CreateChunks must interleave
// a fmt-3 continuation basic header before each subsequent fragment.
func TestCreateChunksSplitsAcrossChunkSizeWithFmt3Continuation(t *testing.T) {
	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = byte(i)
	}

	packet := createBlankRTMPPacket()
	packet.header.fmt = RTMP_CHUNK_TYPE_0
	packet.header.cid = 5
	packet.header.timestamp = 0
	packet.header.packet_type = RTMP_TYPE_VIDEO
	packet.header.stream_id = 1
	packet.header.length = uint32(len(payload))
	packet.payload = payload

	outChunkSize := 4
	chunks := packet.CreateChunks(outChunkSize)

	basicHeader0 := rtmpChunkBasicHeaderCreate(RTMP_CHUNK_TYPE_0, 5)
	basicHeader3 := rtmpChunkBasicHeaderCreate(RTMP_CHUNK_TYPE_3, 5)
	messageHeader := rtmpChunkMessageHeaderCreate(&packet)

	pos := 0
	if string(chunks[pos:pos+len(basicHeader0)]) != string(basicHeader0) {
		t.Fatalf("expected leading fmt-0 basic header")
	}
	pos += len(basicHeader0)
	pos += len(messageHeader)

	if string(chunks[pos:pos+4]) != string(payload[0:4]) {
		t.Fatalf("expected first fragment to match first 4 payload bytes")
	}
	pos += 4

	if string(chunks[pos:pos+len(basicHeader3)]) != string(basicHeader3) {
		t.Fatalf("expected fmt-3 continuation header after first fragment")
	}
	pos += len(basicHeader3)

	if string(chunks[pos:pos+4]) != string(payload[4:8]) {
		t.Fatalf("expected second fragment to match payload[4:8]")
	}
	pos += 4

	if string(chunks[pos:pos+len(basicHeader3)]) != string(basicHeader3) {
		t.Fatalf("expected fmt-3 continuation header after second fragment")
	}
	pos += len(basicHeader3)

	remaining := len(payload) - 8
	if string(chunks[pos:pos+remaining]) != string(payload[8:]) {
		t.Fatalf("expected final fragment to match remaining payload bytes")
	}
	pos += remaining

	if pos != len(chunks) {
		t.Fatalf("expected to consume exactly %d bytes, consumed %d", len(chunks), pos)
	}
}

func TestRtmpChunkMessageHeaderCreateFmt0IncludesStreamID(t *testing.T) {
	packet := createBlankRTMPPacket()
	packet.header.fmt = RTMP_CHUNK_TYPE_0
	packet.header.timestamp = 1000
	packet.header.length = 42
	packet.header.packet_type = RTMP_TYPE_AUDIO
	packet.header.stream_id = 7

	header := rtmpChunkMessageHeaderCreate(&packet)

	// timestamp(3) + length(3) + type(1) + stream id(4) = 11 bytes
	if len(header) != 11 {
		t.Fatalf("expected fmt-0 message header of 11 bytes, got %d", len(header))
	}
}

func TestRtmpChunkMessageHeaderCreateFmt3IsEmpty(t *testing.T) {
	packet := createBlankRTMPPacket()
	packet.header.fmt = RTMP_CHUNK_TYPE_3

	header := rtmpChunkMessageHeaderCreate(&packet)
	if len(header) != 0 {
		t.Fatalf("expected empty fmt-3 message header, got %d bytes", len(header))
	}
}
