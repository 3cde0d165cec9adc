package message

import (
	"encoding/binary"

	"github.com/exa-networks/exabgp/internal/wire"
)

// Type is the BGP message type byte.
type Type uint8

const (
	TypeOpen         Type = 1
	TypeUpdate       Type = 2
	TypeNotification Type = 3
	TypeKeepAlive    Type = 4
	TypeRouteRefresh Type = 5
)

func (t Type) String() string {
	switch t {
	case TypeOpen:
		return "open"
	case TypeUpdate:
		return "update"
	case TypeNotification:
		return "notification"
	case TypeKeepAlive:
		return "keepalive"
	case TypeRouteRefresh:
		return "route-refresh"
	}
	return "unknown"
}

// HeaderSize is marker(16) + length(2) + type(1).
const HeaderSize = 19

// Pack frames a message body: all-ones marker, total length, type, body.
func Pack(t Type, body []byte) []byte {
	frame := make([]byte, HeaderSize+len(body))
	for i := 0; i < 16; i++ {
		frame[i] = 0xFF
	}
	binary.BigEndian.PutUint16(frame[16:18], uint16(HeaderSize+len(body)))
	frame[18] = byte(t)
	copy(frame[HeaderSize:], body)
	return frame
}

// ParseHeader validates the 19-byte header against the negotiated maximum
// message size and returns the body length and type.
func ParseHeader(header []byte, maxSize int) (int, Type, *wire.Notify) {
	for _, b := range header[0:16] {
		if b != 0xFF {
			return 0, 0, wire.NewNotify(wire.NotifyHeaderError, wire.HeaderNotSynchronized)
		}
	}
	length := int(binary.BigEndian.Uint16(header[16:18]))
	if length < HeaderSize || length > maxSize {
		return 0, 0, wire.NewNotify(wire.NotifyHeaderError, wire.HeaderBadLength, header[16], header[17])
	}
	t := Type(header[18])
	if t < TypeOpen || t > TypeRouteRefresh {
		return 0, 0, wire.NewNotify(wire.NotifyHeaderError, wire.HeaderBadType, header[18])
	}
	return length - HeaderSize, t, nil
}

// KeepAlive is the empty-body heartbeat. The canonical frame is
// FF*16 00 13 04.
type KeepAlive struct{}

func (KeepAlive) Frame() []byte { return Pack(TypeKeepAlive, nil) }
