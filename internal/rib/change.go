package rib

import (
	"github.com/exa-networks/exabgp/internal/attribute"
	"github.com/exa-networks/exabgp/internal/nlri"
)

// Change is the atomic unit between the API plane and the Adj-RIB-Out:
// an NLRI with its action and, for announcements, the attributes to send.
// Two changes are the same route when their NLRI indices match.
type Change struct {
	NLRI       nlri.NLRI
	Attributes *attribute.Collection
	Watchdog   string
}

func Announce(n nlri.NLRI, attrs *attribute.Collection) *Change {
	if attrs == nil {
		attrs = attribute.NewCollection()
	}
	return &Change{NLRI: n, Attributes: attrs}
}

func Withdraw(n nlri.NLRI) *Change {
	return &Change{NLRI: n}
}

func (c *Change) Index() string { return c.NLRI.Index() }

// IsWithdraw: a change with no attributes is a withdrawal.
func (c *Change) IsWithdraw() bool { return c.Attributes == nil }

func (c *Change) String() string {
	if c.IsWithdraw() {
		return "withdraw " + c.NLRI.String()
	}
	return "announce " + c.NLRI.String()
}
