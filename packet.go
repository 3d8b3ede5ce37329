package nidsim

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Role identifies which kind of source generated a packet
type Role int

const (
	FloodRole Role = iota
	AttackRole
	LegitRole
)

var roleToStr map[Role]string = map[Role]string{FloodRole: "flood", AttackRole: "attack", LegitRole: "legit"}

func (r Role) String() string {
	str, present := roleToStr[r]
	if !present {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return str
}

// ParseRole maps a configuration string onto a Role
func ParseRole(str string) (Role, error) {
	switch str {
	case "flood", "background", "bg":
		return FloodRole, nil
	case "attack", "attacker":
		return AttackRole, nil
	case "legit", "legitimate", "bulk":
		return LegitRole, nil
	}
	return FloodRole, fmt.Errorf("unknown source role %q", str)
}

// FlowKey is the five-tuple a FlowRecord is kept against.  It is comparable
// and so serves directly as a map key.
type FlowKey struct {
	Net       gopacket.Flow
	Transport gopacket.Flow
	Proto     layers.IPProtocol
}

// NewFlowKey builds the five-tuple for traffic from src:srcPort to dst:dstPort
func NewFlowKey(src, dst net.IP, srcPort, dstPort uint16, proto layers.IPProtocol) FlowKey {
	netFlow, _ := gopacket.FlowFromEndpoints(layers.NewIPEndpoint(src), layers.NewIPEndpoint(dst))

	var tsrc, tdst gopacket.Endpoint
	if proto == layers.IPProtocolTCP {
		tsrc = layers.NewTCPPortEndpoint(layers.TCPPort(srcPort))
		tdst = layers.NewTCPPortEndpoint(layers.TCPPort(dstPort))
	} else {
		tsrc = layers.NewUDPPortEndpoint(layers.UDPPort(srcPort))
		tdst = layers.NewUDPPortEndpoint(layers.UDPPort(dstPort))
	}
	tFlow, _ := gopacket.FlowFromEndpoints(tsrc, tdst)

	return FlowKey{Net: netFlow, Transport: tFlow, Proto: proto}
}

// SrcIP returns the source address of the tuple
func (fk FlowKey) SrcIP() net.IP {
	return net.IP(fk.Net.Src().Raw())
}

// DstIP returns the destination address of the tuple
func (fk FlowKey) DstIP() net.IP {
	return net.IP(fk.Net.Dst().Raw())
}

// DstPort returns the destination port of the tuple
func (fk FlowKey) DstPort() uint16 {
	raw := fk.Transport.Dst().Raw()
	if len(raw) != 2 {
		return 0
	}
	return binary.BigEndian.Uint16(raw)
}

func (fk FlowKey) String() string {
	return fmt.Sprintf("%s %s %s", fk.Proto, fk.Net, fk.Transport)
}

// Packet is one simulated datagram.  Whether it belongs to an attack is
// fixed when it is created; nothing downstream re-derives it.
type Packet struct {
	Size    int     // bytes on the wire
	Payload int     // application bytes carried, bulk segments only
	Role    Role    // kind of source that emitted it
	Created float64 // emission time, seconds
	Seq     int64   // first stream byte carried, bulk segments only
	Retx    bool    // true for a retransmitted bulk segment
	Src     string  // name of the emitting source
	Key     FlowKey

	attack bool
}

func newPacket(src string, role Role, key FlowKey, size int, now float64) *Packet {
	return &Packet{Size: size, Role: role, Created: now, Src: src, Key: key, attack: role == AttackRole}
}

// IsAttack reports the classification tag set at creation
func (p *Packet) IsAttack() bool {
	return p.attack
}

// Bits is the size of the packet on the wire, in bits
func (p *Packet) Bits() float64 {
	return float64(8 * p.Size)
}

// PacketHandler accepts a packet at some point along the path
type PacketHandler func(p *Packet)
