// Chunk stream context: outbound fmt selection and inbound interleave
// detection, layered on top of the basic/message header codec in
// rtmp_packet.go.

package main

// outboundChunkState remembers the last message sent on a chunk stream id,
// so the next send can pick the narrowest fmt (0/1/2/3) the protocol allows
// instead of always resending a full fmt-0 header.
type outboundChunkState struct {
	hasSent           bool
	lastTimestamp     int64
	lastDelta         int64 // Timestamp delta established by the last fmt 1/2 send
	lastMessageLength uint32
	lastPacketType    uint32
	lastStreamId      uint32
}

// trackChunkStreamInit enforces two chunk-interleave invariants on a cid:
//
//  1. A continuation header (fmt 1/2/3) never arrives before the chunk
//     stream has seen a full fmt-0 header: there would be nothing to apply
//     the delta/continuation to.
//  2. A new message header (fmt 0/1/2) never arrives while a previous
//     message on the same cid is still mid-reassembly (some but not all of
//     its bytes read). Only fmt 3 may continue an in-progress message;
//     a fresh header there means another message was interleaved onto the
//     same chunk stream before the first one finished, which the spec
//     requires raising fatally rather than silently clobbering the
//     in-progress packet's header/byte count.
//
// Chunk streams interleave freely by design (that's what the cid in the
// basic header is for) as long as neither rule above is broken.
func (s *RTMPSession) trackChunkStreamInit(packet *RTMPPacket, chunkFmt uint32) error {
	if chunkFmt != RTMP_CHUNK_TYPE_3 && packet.bytes > 0 && packet.bytes < packet.header.length {
		return NewRTMPError(ErrChunkInterleave, SeverityFatal, nil,
			"new chunk header received before the in-progress message on this chunk stream was fully reassembled")
	}

	if chunkFmt == RTMP_CHUNK_TYPE_0 {
		packet.initialized = true
		return nil
	}

	if !packet.initialized {
		return NewRTMPError(ErrChunkInterleave, SeverityFatal, nil,
			"continuation chunk received before any full header on this chunk stream")
	}

	return nil
}

// SendPacket picks the narrowest chunk fmt for packet.header.cid given what
// was last sent on that chunk stream, serializes it and writes it out.
// Callers set packet.header.timestamp to the message's absolute timestamp;
// SendPacket rewrites it to a delta when fmt 1 or 2 is chosen.
//
// fmt 3 is only chosen when the new message repeats the delta the receiver
// will apply to a fmt-3 header: the delta sent in the last fmt 1/2 header,
// or, right after a fmt 0 send, that message's absolute timestamp (a
// receiver adds the fmt-0 timestamp again for a following fmt 3). A new
// timestamp that merely equals the last one is not enough on its own. This
// is what lets a fixed-rate stream (constant, nonzero delta between
// messages) collapse to fmt 3 after its first couple of messages, per spec.
func (s *RTMPSession) SendPacket(packet *RTMPPacket) {
	st, ok := s.outStreams[packet.header.cid]
	if !ok {
		st = &outboundChunkState{}
		s.outStreams[packet.header.cid] = st
	}

	absoluteTimestamp := packet.header.timestamp
	delta := absoluteTimestamp - st.lastTimestamp

	switch {
	case !st.hasSent || packet.header.stream_id != st.lastStreamId:
		packet.header.fmt = RTMP_CHUNK_TYPE_0
		st.lastDelta = absoluteTimestamp
	case packet.header.length != st.lastMessageLength || packet.header.packet_type != st.lastPacketType:
		packet.header.fmt = RTMP_CHUNK_TYPE_1
		packet.header.timestamp = delta
		st.lastDelta = delta
	case delta == st.lastDelta:
		packet.header.fmt = RTMP_CHUNK_TYPE_3
		packet.header.timestamp = 0
	default:
		packet.header.fmt = RTMP_CHUNK_TYPE_2
		packet.header.timestamp = delta
		st.lastDelta = delta
	}

	bytes := packet.CreateChunks(int(s.outChunkSize))

	st.hasSent = true
	st.lastMessageLength = packet.header.length
	st.lastPacketType = packet.header.packet_type
	st.lastStreamId = packet.header.stream_id
	st.lastTimestamp = absoluteTimestamp

	s.SendSync(bytes)
}
