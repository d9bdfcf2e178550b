package main

import (
	"io"
	"net"
	"testing"
)

func newTestSession(t *testing.T, chunkSize uint32) (*RTMPSession, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})

	server := &RTMPServer{config: &Config{SendChunkSize: chunkSize}}
	session := CreateRTMPSession(server, 1, "127.0.0.1", serverConn)
	return &session, clientConn
}

func TestTrackChunkStreamInitRejectsContinuationBeforeFmt0(t *testing.T) {
	session, _ := newTestSession(t, 128)

	packet := createBlankRTMPPacket()
	if err := session.trackChunkStreamInit(&packet, RTMP_CHUNK_TYPE_1); err == nil {
		t.Fatalf("expected error for fmt-1 continuation before any fmt-0 header")
	}
}

func TestTrackChunkStreamInitAcceptsFmt0ThenContinuation(t *testing.T) {
	session, _ := newTestSession(t, 128)

	packet := createBlankRTMPPacket()
	if err := session.trackChunkStreamInit(&packet, RTMP_CHUNK_TYPE_0); err != nil {
		t.Fatalf("unexpected error on fmt-0 header: %v", err)
	}
	if !packet.initialized {
		t.Fatalf("expected packet to be marked initialized after fmt-0 header")
	}
	if err := session.trackChunkStreamInit(&packet, RTMP_CHUNK_TYPE_3); err != nil {
		t.Fatalf("unexpected error on fmt-3 continuation after fmt-0: %v", err)
	}
}

// Regression test for spec.md §8 Scenario F: chunk 1 of message M on a chunk
// stream, then a new fmt-0/1/2 header for message N on that same chunk
// stream before M finishes reassembling, must raise ChunkInterleave fatally
// instead of letting N's header silently clobber M's in-progress state.
func TestTrackChunkStreamInitRejectsNewHeaderDuringReassembly(t *testing.T) {
	session, _ := newTestSession(t, 128)

	packet := createBlankRTMPPacket()
	if err := session.trackChunkStreamInit(&packet, RTMP_CHUNK_TYPE_0); err != nil {
		t.Fatalf("unexpected error establishing message M with fmt-0: %v", err)
	}

	// Simulate message M mid-reassembly: some but not all of its bytes read.
	packet.header.length = 100
	packet.bytes = 40

	for _, fmtType := range []uint32{RTMP_CHUNK_TYPE_0, RTMP_CHUNK_TYPE_1, RTMP_CHUNK_TYPE_2} {
		if err := session.trackChunkStreamInit(&packet, fmtType); err == nil {
			t.Fatalf("expected ChunkInterleave error for fmt %d arriving mid-reassembly", fmtType)
		}
	}
}

// A fmt-3 continuation chunk arriving mid-reassembly is the normal case
// (the rest of message M's bytes) and must not be rejected.
func TestTrackChunkStreamInitAcceptsFmt3DuringReassembly(t *testing.T) {
	session, _ := newTestSession(t, 128)

	packet := createBlankRTMPPacket()
	if err := session.trackChunkStreamInit(&packet, RTMP_CHUNK_TYPE_0); err != nil {
		t.Fatalf("unexpected error establishing message with fmt-0: %v", err)
	}

	packet.header.length = 100
	packet.bytes = 40

	if err := session.trackChunkStreamInit(&packet, RTMP_CHUNK_TYPE_3); err != nil {
		t.Fatalf("unexpected error for fmt-3 continuation mid-reassembly: %v", err)
	}
}

func TestSendPacketFirstSendOnChunkStreamUsesFmt0(t *testing.T) {
	session, clientConn := newTestSession(t, 128)

	packet := createBlankRTMPPacket()
	packet.header.cid = 4
	packet.header.stream_id = 1
	packet.header.packet_type = RTMP_TYPE_AUDIO
	packet.header.timestamp = 1000
	packet.header.length = 4
	packet.payload = []byte{1, 2, 3, 4}

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := clientConn.Read(buf)
		done <- buf[:n]
	}()

	session.SendPacket(&packet)

	if packet.header.fmt != RTMP_CHUNK_TYPE_0 {
		t.Fatalf("expected first send on a chunk stream to use fmt 0, got %d", packet.header.fmt)
	}

	received := <-done
	if len(received) == 0 {
		t.Fatalf("expected bytes written to the connection")
	}
}

// Repeated sends of the same message shape (stream id, packet type, length)
// with an unchanged timestamp collapse to fmt 3, the narrowest header, once
// the zero delta has gone out in a fmt-2 header: right after fmt 0 a fmt-3
// header would make the receiver add the fmt-0 timestamp a second time.
func TestSendPacketRepeatedIdenticalSendsUseFmt3(t *testing.T) {
	session, clientConn := newTestSession(t, 128)
	go io.Copy(io.Discard, clientConn)

	makePacket := func() RTMPPacket {
		p := createBlankRTMPPacket()
		p.header.cid = 6
		p.header.stream_id = 1
		p.header.packet_type = RTMP_TYPE_VIDEO
		p.header.timestamp = 5000
		p.header.length = 3
		p.payload = []byte{9, 9, 9}
		return p
	}

	first := makePacket()
	session.SendPacket(&first)
	if first.header.fmt != RTMP_CHUNK_TYPE_0 {
		t.Fatalf("expected fmt 0 on first send, got %d", first.header.fmt)
	}

	second := makePacket()
	session.SendPacket(&second)
	if second.header.fmt != RTMP_CHUNK_TYPE_2 {
		t.Fatalf("expected fmt 2 carrying the zero delta on the first repeat, got %d", second.header.fmt)
	}

	third := makePacket()
	session.SendPacket(&third)
	if third.header.fmt != RTMP_CHUNK_TYPE_3 {
		t.Fatalf("expected fmt 3 on identical repeated send, got %d", third.header.fmt)
	}
}

// A changed timestamp but identical message shape should pick fmt 2, and the
// packet's timestamp field is rewritten to the delta from the last send.
func TestSendPacketTimestampOnlyChangeUsesFmt2WithDelta(t *testing.T) {
	session, clientConn := newTestSession(t, 128)
	go io.Copy(io.Discard, clientConn)

	makePacket := func(ts int64) RTMPPacket {
		p := createBlankRTMPPacket()
		p.header.cid = 7
		p.header.stream_id = 1
		p.header.packet_type = RTMP_TYPE_VIDEO
		p.header.timestamp = ts
		p.header.length = 2
		p.payload = []byte{1, 2}
		return p
	}

	first := makePacket(1000)
	session.SendPacket(&first)

	second := makePacket(1040)
	session.SendPacket(&second)

	if second.header.fmt != RTMP_CHUNK_TYPE_2 {
		t.Fatalf("expected fmt 2 for timestamp-only change, got %d", second.header.fmt)
	}
	if second.header.timestamp != 40 {
		t.Fatalf("expected rewritten delta timestamp of 40, got %d", second.header.timestamp)
	}
}

// A fixed-rate stream (e.g. audio every 23ms) establishes its delta on the
// second message (fmt 2), then must collapse to fmt 3 on every subsequent
// message that repeats that same delta — not just on literal timestamp
// duplicates.
func TestSendPacketConstantDeltaStreamCollapsesToFmt3(t *testing.T) {
	session, clientConn := newTestSession(t, 128)
	go io.Copy(io.Discard, clientConn)

	makePacket := func(ts int64) RTMPPacket {
		p := createBlankRTMPPacket()
		p.header.cid = 9
		p.header.stream_id = 1
		p.header.packet_type = RTMP_TYPE_AUDIO
		p.header.timestamp = ts
		p.header.length = 4
		p.payload = []byte{1, 2, 3, 4}
		return p
	}

	first := makePacket(0)
	session.SendPacket(&first)
	if first.header.fmt != RTMP_CHUNK_TYPE_0 {
		t.Fatalf("expected fmt 0 on first send, got %d", first.header.fmt)
	}

	second := makePacket(23)
	session.SendPacket(&second)
	if second.header.fmt != RTMP_CHUNK_TYPE_2 {
		t.Fatalf("expected fmt 2 establishing the delta, got %d", second.header.fmt)
	}
	if second.header.timestamp != 23 {
		t.Fatalf("expected delta timestamp of 23, got %d", second.header.timestamp)
	}

	third := makePacket(46)
	session.SendPacket(&third)
	if third.header.fmt != RTMP_CHUNK_TYPE_3 {
		t.Fatalf("expected fmt 3 once the constant 23ms delta repeats, got %d", third.header.fmt)
	}

	fourth := makePacket(69)
	session.SendPacket(&fourth)
	if fourth.header.fmt != RTMP_CHUNK_TYPE_3 {
		t.Fatalf("expected fmt 3 to persist across further constant-delta sends, got %d", fourth.header.fmt)
	}
}

// A different message length or packet type should pick fmt 1.
func TestSendPacketLengthChangeUsesFmt1(t *testing.T) {
	session, clientConn := newTestSession(t, 128)
	go io.Copy(io.Discard, clientConn)

	first := createBlankRTMPPacket()
	first.header.cid = 8
	first.header.stream_id = 1
	first.header.packet_type = RTMP_TYPE_VIDEO
	first.header.timestamp = 1000
	first.header.length = 2
	first.payload = []byte{1, 2}
	session.SendPacket(&first)

	second := createBlankRTMPPacket()
	second.header.cid = 8
	second.header.stream_id = 1
	second.header.packet_type = RTMP_TYPE_VIDEO
	second.header.timestamp = 1010
	second.header.length = 5
	second.payload = []byte{1, 2, 3, 4, 5}
	session.SendPacket(&second)

	if second.header.fmt != RTMP_CHUNK_TYPE_1 {
		t.Fatalf("expected fmt 1 for message length change, got %d", second.header.fmt)
	}
	if second.header.timestamp != 10 {
		t.Fatalf("expected rewritten delta timestamp of 10, got %d", second.header.timestamp)
	}
}
