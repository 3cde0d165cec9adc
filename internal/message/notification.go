package message

import (
	"fmt"
	"unicode/utf8"

	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/wire"
)

// Notification is the terminal message: after sending or receiving one,
// the connection closes.
type Notification struct {
	wire.Notify
}

func NewNotification(n *wire.Notify) *Notification {
	return &Notification{Notify: *n}
}

// NewShutdown builds a cease NOTIFICATION with an RFC 8203 shutdown
// communication for the subcodes that allow one.
func NewShutdown(subcode uint8, communication string) *Notification {
	n := &Notification{Notify: wire.Notify{Code: wire.NotifyCease, Subcode: subcode}}
	if communication != "" && (subcode == wire.CeaseShutdown || subcode == wire.CeaseReset) {
		msg := []byte(communication)
		if len(msg) > 255 {
			msg = msg[:255]
		}
		n.Data = append([]byte{byte(len(msg))}, msg...)
	}
	return n
}

func (n *Notification) Body() []byte {
	body := []byte{n.Code, n.Subcode}
	return append(body, n.Data...)
}

func (n *Notification) Frame() []byte { return Pack(TypeNotification, n.Body()) }

// Communication extracts the RFC 8203 shutdown string when present and
// valid UTF-8.
func (n *Notification) Communication() string {
	if n.Code != wire.NotifyCease {
		return ""
	}
	if n.Subcode != wire.CeaseShutdown && n.Subcode != wire.CeaseReset {
		return ""
	}
	if len(n.Data) < 1 {
		return ""
	}
	l := int(n.Data[0])
	if len(n.Data) < 1+l {
		return ""
	}
	s := n.Data[1 : 1+l]
	if !utf8.Valid(s) {
		return ""
	}
	return string(s)
}

func ParseNotification(body []byte) (*Notification, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("message: notification body %d bytes", len(body))
	}
	return &Notification{Notify: wire.Notify{
		Code:    body[0],
		Subcode: body[1],
		Data:    append([]byte(nil), body[2:]...),
	}}, nil
}

func (n *Notification) String() string {
	if c := n.Communication(); c != "" {
		return fmt.Sprintf("notification (%d,%d) %s: %q", n.Code, n.Subcode, n.Notify.Error(), c)
	}
	return fmt.Sprintf("notification (%d,%d) %s", n.Code, n.Subcode, n.Notify.Error())
}

// Enhanced route-refresh subtypes (RFC 7313) carried in the reserved
// byte of the ROUTE-REFRESH body.
const (
	RefreshRequest uint8 = 0
	RefreshBoRR    uint8 = 1
	RefreshEoRR    uint8 = 2
)

// RouteRefresh asks the peer to resend a family, or brackets an enhanced
// refresh with begin/end markers.
type RouteRefresh struct {
	Family  family.Family
	Subtype uint8
}

func (r *RouteRefresh) Body() []byte {
	return []byte{byte(r.Family.AFI >> 8), byte(r.Family.AFI), r.Subtype, byte(r.Family.SAFI)}
}

func (r *RouteRefresh) Frame() []byte { return Pack(TypeRouteRefresh, r.Body()) }

func ParseRouteRefresh(body []byte) (*RouteRefresh, *wire.Notify) {
	if len(body) != 4 {
		return nil, wire.NewNotify(wire.NotifyRouteRefresh, 1)
	}
	return &RouteRefresh{
		Family: family.Family{
			AFI:  family.AFI(uint16(body[0])<<8 | uint16(body[1])),
			SAFI: family.SAFI(body[3]),
		},
		Subtype: body[2],
	}, nil
}

func (r *RouteRefresh) String() string {
	switch r.Subtype {
	case RefreshBoRR:
		return fmt.Sprintf("route-refresh %s begin", r.Family)
	case RefreshEoRR:
		return fmt.Sprintf("route-refresh %s end", r.Family)
	}
	return fmt.Sprintf("route-refresh %s request", r.Family)
}
