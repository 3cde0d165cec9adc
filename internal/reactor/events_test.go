package reactor

import (
	"encoding/binary"
	"testing"

	"github.com/exa-networks/exabgp/internal/attribute"
	"github.com/exa-networks/exabgp/internal/message"
)

func buildAttr(flags, code byte, data []byte) []byte {
	attr := []byte{flags, code, byte(len(data))}
	return append(attr, data...)
}

func TestUpdateJSON(t *testing.T) {
	pathAttrs := buildAttr(0x40, 1, []byte{0})
	pathAttrs = append(pathAttrs, buildAttr(0x40, 2, []byte{2, 1, 0, 0, 0xFD, 0xE8})...)
	pathAttrs = append(pathAttrs, buildAttr(0x40, 3, []byte{192, 0, 2, 1})...)

	body := binary.BigEndian.AppendUint16(nil, 4)
	body = append(body, 24, 10, 0, 1) // withdrawn 10.0.1.0/24
	body = binary.BigEndian.AppendUint16(body, uint16(len(pathAttrs)))
	body = append(body, pathAttrs...)
	body = append(body, 24, 10, 0, 0)

	u, notify := message.ParseUpdate(body, attribute.Context{AS4: true})
	if notify != nil {
		t.Fatal(notify)
	}
	out := UpdateJSON(u)

	attrs, ok := out["attribute"].(map[string]string)
	if !ok {
		t.Fatal("attribute section missing")
	}
	if attrs["origin"] != "igp" {
		t.Errorf("origin %q", attrs["origin"])
	}

	announce, ok := out["announce"].(map[string][]map[string]string)
	if !ok {
		t.Fatal("announce section missing")
	}
	entries := announce["ipv4 unicast"]
	if len(entries) != 1 || entries[0]["nlri"] != "10.0.0.0/24" {
		t.Fatalf("announce %v", entries)
	}
	if entries[0]["next-hop"] != "192.0.2.1" {
		t.Errorf("next-hop %q", entries[0]["next-hop"])
	}

	withdraw, ok := out["withdraw"].(map[string][]map[string]string)
	if !ok {
		t.Fatal("withdraw section missing")
	}
	if withdraw["ipv4 unicast"][0]["nlri"] != "10.0.1.0/24" {
		t.Fatalf("withdraw %v", withdraw)
	}
}
