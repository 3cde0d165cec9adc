package wire

import "fmt"

// NOTIFICATION error codes (RFC 4271 §4.5).
const (
	NotifyHeaderError   uint8 = 1
	NotifyOpenError     uint8 = 2
	NotifyUpdateError   uint8 = 3
	NotifyHoldTimer     uint8 = 4
	NotifyFSMError      uint8 = 5
	NotifyCease         uint8 = 6
	NotifyRouteRefresh  uint8 = 7
)

// Header error subcodes.
const (
	HeaderNotSynchronized uint8 = 1
	HeaderBadLength       uint8 = 2
	HeaderBadType         uint8 = 3
)

// OPEN error subcodes.
const (
	OpenUnsupportedVersion uint8 = 1
	OpenBadPeerAS          uint8 = 2
	OpenBadBGPID           uint8 = 3
	OpenUnsupportedParam   uint8 = 4
	OpenUnacceptableHold   uint8 = 6
	OpenUnsupportedCap     uint8 = 7
)

// UPDATE error subcodes.
const (
	UpdateMalformedAttrList  uint8 = 1
	UpdateUnrecognizedWK     uint8 = 2
	UpdateMissingWK          uint8 = 3
	UpdateAttrFlagsError     uint8 = 4
	UpdateAttrLengthError    uint8 = 5
	UpdateInvalidOrigin      uint8 = 6
	UpdateInvalidNextHop     uint8 = 8
	UpdateOptionalAttrError  uint8 = 9
	UpdateInvalidNetwork     uint8 = 10
	UpdateMalformedASPath    uint8 = 11
)

// Cease subcodes (RFC 4486 / 8203).
const (
	CeaseMaxPrefixes        uint8 = 1
	CeaseShutdown           uint8 = 2
	CeasePeerDeconfigured   uint8 = 3
	CeaseReset              uint8 = 4
	CeaseConnectionRejected uint8 = 5
	CeaseConfigurationChange uint8 = 6
	CeaseCollisionResolution uint8 = 7
	CeaseOutOfResources     uint8 = 8
)

// Notify is a protocol error carried as a value. Session-level code
// pattern-matches on it to decide between resetting the session and the
// RFC 7606 recovery modes.
type Notify struct {
	Code    uint8
	Subcode uint8
	Data    []byte
}

func NewNotify(code, subcode uint8, data ...byte) *Notify {
	return &Notify{Code: code, Subcode: subcode, Data: data}
}

func (n *Notify) Error() string {
	s := notifyString(n.Code, n.Subcode)
	if len(n.Data) > 0 {
		return fmt.Sprintf("%s (%x)", s, n.Data)
	}
	return s
}

func (n *Notify) String() string { return n.Error() }

func notifyString(code, subcode uint8) string {
	switch code {
	case NotifyHeaderError:
		switch subcode {
		case HeaderNotSynchronized:
			return "connection not synchronized"
		case HeaderBadLength:
			return "bad message length"
		case HeaderBadType:
			return "bad message type"
		}
		return "message header error"
	case NotifyOpenError:
		switch subcode {
		case OpenUnsupportedVersion:
			return "unsupported version number"
		case OpenBadPeerAS:
			return "bad peer AS"
		case OpenBadBGPID:
			return "bad BGP identifier"
		case OpenUnsupportedParam:
			return "unsupported optional parameter"
		case OpenUnacceptableHold:
			return "unacceptable hold time"
		case OpenUnsupportedCap:
			return "unsupported capability"
		}
		return "open message error"
	case NotifyUpdateError:
		switch subcode {
		case UpdateMalformedAttrList:
			return "malformed attribute list"
		case UpdateMissingWK:
			return "missing well-known attribute"
		case UpdateAttrFlagsError:
			return "attribute flags error"
		case UpdateAttrLengthError:
			return "attribute length error"
		case UpdateMalformedASPath:
			return "malformed AS_PATH"
		}
		return "update message error"
	case NotifyHoldTimer:
		return "hold timer expired"
	case NotifyFSMError:
		return "finite state machine error"
	case NotifyCease:
		switch subcode {
		case CeaseMaxPrefixes:
			return "maximum number of prefixes reached"
		case CeaseShutdown:
			return "administrative shutdown"
		case CeasePeerDeconfigured:
			return "peer de-configured"
		case CeaseReset:
			return "administrative reset"
		case CeaseConnectionRejected:
			return "connection rejected"
		case CeaseConfigurationChange:
			return "other configuration change"
		case CeaseCollisionResolution:
			return "connection collision resolution"
		case CeaseOutOfResources:
			return "out of resources"
		}
		return "cease"
	case NotifyRouteRefresh:
		return "route-refresh message error"
	}
	return fmt.Sprintf("notification %d/%d", code, subcode)
}
