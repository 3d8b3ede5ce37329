package nidsim

import (
	"net"
	"strings"
	"testing"

	"github.com/google/gopacket/layers"
)

func TestFlowKeyFields(t *testing.T) {
	key := NewFlowKey(net.IPv4(10, 1, 7, 1), net.IPv4(10, 3, 1, 2), 49153, 8080, layers.IPProtocolTCP)

	if !key.SrcIP().Equal(net.IPv4(10, 1, 7, 1)) || !key.DstIP().Equal(net.IPv4(10, 3, 1, 2)) {
		t.Fatalf("addresses %s -> %s", key.SrcIP(), key.DstIP())
	}
	if key.DstPort() != 8080 {
		t.Fatalf("dst port = %d, want 8080", key.DstPort())
	}
	if !strings.Contains(key.String(), "10.1.7.1") || !strings.Contains(key.String(), "8080") {
		t.Fatalf("String() = %q", key.String())
	}
}

func TestFlowKeyIsComparable(t *testing.T) {
	a := NewFlowKey(net.IPv4(10, 1, 1, 1), net.IPv4(10, 3, 1, 2), 49153, 9, layers.IPProtocolUDP)
	b := NewFlowKey(net.IPv4(10, 1, 1, 1), net.IPv4(10, 3, 1, 2), 49153, 9, layers.IPProtocolUDP)
	c := NewFlowKey(net.IPv4(10, 1, 1, 1), net.IPv4(10, 3, 1, 2), 49153, 9, layers.IPProtocolTCP)
	if a != b {
		t.Fatalf("identical five-tuples differ")
	}
	if a == c {
		t.Fatalf("protocol ignored by the key")
	}
	seen := map[FlowKey]int{a: 1}
	if seen[b] != 1 {
		t.Fatalf("key lookup failed")
	}
}

func TestAttackTagFixedAtCreation(t *testing.T) {
	p := newPacket("attacker", AttackRole, testKey(6, 80), 1024, 0.0)
	p.Role = FloodRole
	if !p.IsAttack() {
		t.Fatalf("attack tag followed a later role change")
	}
	if p.Bits() != 8192 {
		t.Fatalf("bits = %g, want 8192", p.Bits())
	}
}

func TestParseRole(t *testing.T) {
	for str, want := range map[string]Role{"flood": FloodRole, "attacker": AttackRole, "legit": LegitRole, "bulk": LegitRole} {
		got, err := ParseRole(str)
		if err != nil || got != want {
			t.Fatalf("ParseRole(%q) = %v, %v", str, got, err)
		}
	}
	if _, err := ParseRole("scanner"); err == nil {
		t.Fatalf("unknown role accepted")
	}
}
