// Protocol Control messages (type 1, 2, 3, 5, 6) and User Control events
// (type 4), split out of the main dispatch switch in rtmp_session.go.

package main

import (
	"encoding/binary"
	"strconv"
)

const USER_CONTROL_SET_BUFFER_LENGTH = 3
const USER_CONTROL_STREAM_IS_RECORDED = 4
const USER_CONTROL_PING_REQUEST = 6
const USER_CONTROL_PING_RESPONSE = 7

// HandleSetChunkSize applies an incoming Set Chunk Size protocol control
// message. A size with the top bit set is a fatal protocol violation;
// re-announcing the size already in effect is a no-op.
func (s *RTMPSession) HandleSetChunkSize(packet *RTMPPacket) error {
	if len(packet.payload) < 4 {
		return NewRTMPError(ErrShortPacket, SeverityFatal, nil, "set chunk size: short payload")
	}

	size := binary.BigEndian.Uint32(packet.payload[0:4])

	if size&0x80000000 != 0 {
		return NewRTMPError(ErrChunkSizeOutOfRange, SeverityFatal, nil, "set chunk size: top bit set")
	}

	if size == 0 {
		return NewRTMPError(ErrChunkSizeOutOfRange, SeverityFatal, nil, "set chunk size: zero")
	}

	if size == s.inChunkSize {
		return nil
	}

	s.inChunkSize = size
	LogDebugSession(s.id, s.ip, "Chunk size updated to "+strconv.Itoa(int(size)))

	return nil
}

// HandleAbort drops the in-progress message for the referenced chunk
// stream, per the Abort Message protocol control message.
func (s *RTMPSession) HandleAbort(packet *RTMPPacket) error {
	if len(packet.payload) < 4 {
		return NewRTMPError(ErrShortPacket, SeverityFatal, nil, "abort: short payload")
	}

	cid := binary.BigEndian.Uint32(packet.payload[0:4])

	if p, ok := s.inPackets[cid]; ok {
		p.payload = p.payload[:0]
		p.bytes = 0
		p.handled = false
	}

	return nil
}

// HandleWindowAckSize records the window size the peer wants
// Acknowledgement messages reported against.
func (s *RTMPSession) HandleWindowAckSize(packet *RTMPPacket) error {
	if len(packet.payload) < 4 {
		return NewRTMPError(ErrShortPacket, SeverityFatal, nil, "window ack size: short payload")
	}

	s.ackSize = binary.BigEndian.Uint32(packet.payload[0:4])
	LogDebugSession(s.id, s.ip, "ACK window size updated to "+strconv.Itoa(int(s.ackSize)))

	return nil
}

// HandleSetPeerBandwidth just logs the request: this server does not throttle
// its own send rate in response to a peer-imposed bandwidth cap.
func (s *RTMPSession) HandleSetPeerBandwidth(packet *RTMPPacket) error {
	if len(packet.payload) < 5 {
		return NewRTMPError(ErrShortPacket, SeverityFatal, nil, "set peer bandwidth: short payload")
	}

	LogDebugSession(s.id, s.ip, "Peer reported a bandwidth limit")

	return nil
}

// HandleUserControlEvent dispatches a User Control Message (type 4).
func (s *RTMPSession) HandleUserControlEvent(packet *RTMPPacket) error {
	if len(packet.payload) < 2 {
		return NewRTMPError(ErrShortPacket, SeverityFatal, nil, "user control: short payload")
	}

	eventType := binary.BigEndian.Uint16(packet.payload[0:2])

	switch eventType {
	case USER_CONTROL_PING_REQUEST:
		if len(packet.payload) >= 6 {
			s.SendPingResponse(binary.BigEndian.Uint32(packet.payload[2:6]))
		}
	case USER_CONTROL_PING_RESPONSE:
		LogDebugSession(s.id, s.ip, "Received ping response")
	case STREAM_BEGIN, STREAM_EOF, STREAM_DRY, USER_CONTROL_SET_BUFFER_LENGTH, USER_CONTROL_STREAM_IS_RECORDED:
		LogDebugSession(s.id, s.ip, "Received stream control event "+strconv.Itoa(int(eventType)))
	default:
		LogDebugSession(s.id, s.ip, "Received unhandled user control event "+strconv.Itoa(int(eventType)))
	}

	return nil
}
