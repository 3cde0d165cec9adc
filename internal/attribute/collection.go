package attribute

import (
	"sort"
	"strings"
)

// Collection is an ordered set of attributes, at most one per type code.
// Insertion order is preserved and stable on re-pack.
type Collection struct {
	attrs  []Attribute
	byCode map[Code]int
}

func NewCollection(attrs ...Attribute) *Collection {
	c := &Collection{byCode: make(map[Code]int, len(attrs))}
	for _, a := range attrs {
		c.Set(a)
	}
	return c
}

// Set inserts or replaces the attribute for its code.
func (c *Collection) Set(a Attribute) {
	if i, ok := c.byCode[a.Code()]; ok {
		c.attrs[i] = a
		return
	}
	c.byCode[a.Code()] = len(c.attrs)
	c.attrs = append(c.attrs, a)
}

// Add applies the code's duplicate policy. It reports false when the
// duplicate was forbidden, leaving the first occurrence in place.
func (c *Collection) Add(a Attribute) bool {
	i, ok := c.byCode[a.Code()]
	if !ok {
		c.Set(a)
		return true
	}
	switch a.Code().Duplicate() {
	case DupForbidden:
		return false
	case DupLastWins:
		c.attrs[i] = a
		return true
	case DupMerge:
		c.attrs[i] = mergeAttrs(c.attrs[i], a)
		return true
	}
	return false
}

func mergeAttrs(a, b Attribute) Attribute {
	switch x := a.(type) {
	case *Communities:
		if y, ok := b.(*Communities); ok {
			return x.merge(y)
		}
	case *fixedSetAttr:
		if y, ok := b.(*fixedSetAttr); ok && x.code == y.code {
			return x.merge(y)
		}
	}
	return b
}

func (c *Collection) Get(code Code) (Attribute, bool) {
	if c == nil {
		return nil, false
	}
	if i, ok := c.byCode[code]; ok {
		return c.attrs[i], true
	}
	return nil, false
}

func (c *Collection) Has(code Code) bool {
	_, ok := c.Get(code)
	return ok
}

// Delete removes the attribute for a code, keeping the order of the rest.
func (c *Collection) Delete(code Code) {
	i, ok := c.byCode[code]
	if !ok {
		return
	}
	c.attrs = append(c.attrs[:i], c.attrs[i+1:]...)
	delete(c.byCode, code)
	for code, j := range c.byCode {
		if j > i {
			c.byCode[code] = j - 1
		}
	}
}

// All returns the attributes in insertion order. Callers must not mutate.
func (c *Collection) All() []Attribute {
	if c == nil {
		return nil
	}
	return c.attrs
}

func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.attrs)
}

// Pack appends every attribute TLV in insertion order.
func (c *Collection) Pack(dst []byte) []byte {
	for _, a := range c.attrs {
		dst = PackTLV(dst, a)
	}
	return dst
}

// PackedLen is the total attribute block size on the wire.
func (c *Collection) PackedLen() int {
	n := 0
	for _, a := range c.attrs {
		n += TLVLen(a)
	}
	return n
}

// Key is a canonical identity for attribute-equality grouping in the
// Adj-RIB-Out: codes in ascending order with their payloads. Two
// collections with equal keys produce equivalent UPDATE attribute blocks.
func (c *Collection) Key() string {
	if c == nil {
		return ""
	}
	codes := make([]int, 0, len(c.attrs))
	for code := range c.byCode {
		codes = append(codes, int(code))
	}
	sort.Ints(codes)
	var b strings.Builder
	for _, code := range codes {
		a := c.attrs[c.byCode[Code(code)]]
		b.WriteByte(byte(code))
		payload := a.Payload()
		b.WriteByte(byte(len(payload) >> 8))
		b.WriteByte(byte(len(payload)))
		b.Write(payload)
	}
	return b.String()
}

// Equal compares by key.
func (c *Collection) Equal(o *Collection) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Key() == o.Key()
}

func (c *Collection) String() string {
	parts := make([]string, 0, len(c.attrs))
	for _, a := range c.attrs {
		parts = append(parts, a.Code().String()+" "+a.String())
	}
	return strings.Join(parts, " ")
}
