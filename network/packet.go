/*
 * Quince - An OpenFlow QoS Controller
 *
 * Copyright (C) 2015 Samjung Data Service, Inc. All rights reserved.
 * Kitae Kim <superkkt@sds.co.kr>
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; either version 2 of the License, or
 * any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License along
 * with this program; if not, write to the Free Software Foundation, Inc.,
 * 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.
 */

package network

import (
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/pkg/errors"
)

// Packet is a decoded Ethernet frame delivered by PACKET_IN.
type Packet struct {
	Data     []byte
	Ethernet layers.Ethernet
	ARP      *layers.ARP
	IPv4     *layers.IPv4
	TCP      *layers.TCP
	UDP      *layers.UDP
}

func DecodePacket(data []byte) (*Packet, error) {
	var (
		eth     layers.Ethernet
		arp     layers.ARP
		ip4     layers.IPv4
		tcp     layers.TCP
		udp     layers.UDP
		payload gopacket.Payload
	)

	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &arp, &ip4, &tcp, &udp, &payload)
	// We are not interested in the other protocols.
	parser.IgnoreUnsupported = true

	decoded := make([]gopacket.LayerType, 0, 4)
	if err := parser.DecodeLayers(data, &decoded); err != nil {
		return nil, errors.Wrap(err, "failed to decode the packet")
	}
	if len(decoded) == 0 {
		return nil, errors.New("not an Ethernet frame")
	}

	p := &Packet{
		Data:     data,
		Ethernet: eth,
	}
	for _, t := range decoded {
		switch t {
		case layers.LayerTypeARP:
			p.ARP = &arp
		case layers.LayerTypeIPv4:
			p.IPv4 = &ip4
		case layers.LayerTypeTCP:
			p.TCP = &tcp
		case layers.LayerTypeUDP:
			p.UDP = &udp
		}
	}

	return p, nil
}

func (r *Packet) SrcMAC() net.HardwareAddr {
	return r.Ethernet.SrcMAC
}

func (r *Packet) DstMAC() net.HardwareAddr {
	return r.Ethernet.DstMAC
}

func (r *Packet) IsBroadcast() bool {
	return r.Ethernet.DstMAC.String() == "ff:ff:ff:ff:ff:ff"
}

// IsARPRequest returns whether the packet is an ARP request of IPv4 over Ethernet and its target IP address.
func (r *Packet) IsARPRequest() (ok bool, target netip.Addr) {
	v := r.ARP
	if v == nil || v.Operation != layers.ARPRequest {
		return false, netip.Addr{}
	}
	if v.AddrType != layers.LinkTypeEthernet || v.Protocol != layers.EthernetTypeIPv4 {
		return false, netip.Addr{}
	}
	if v.HwAddressSize != 6 || v.ProtAddressSize != 4 || len(v.SourceHwAddress) != 6 || len(v.SourceProtAddress) != 4 {
		return false, netip.Addr{}
	}
	target, ok = netip.AddrFromSlice(v.DstProtAddress)
	if !ok || !target.Is4() {
		return false, netip.Addr{}
	}

	return true, target
}

// FlowKey returns the key of the TCP or UDP flow that the packet belongs to.
func (r *Packet) FlowKey() (key FlowKey, ok bool) {
	if r.IPv4 == nil {
		return FlowKey{}, false
	}
	src, ok1 := netip.AddrFromSlice(r.IPv4.SrcIP.To4())
	dst, ok2 := netip.AddrFromSlice(r.IPv4.DstIP.To4())
	if !ok1 || !ok2 {
		return FlowKey{}, false
	}

	key = FlowKey{SrcIP: src, DstIP: dst}
	switch {
	case r.TCP != nil:
		key.Protocol = uint8(layers.IPProtocolTCP)
		key.SrcPort = uint16(r.TCP.SrcPort)
		key.DstPort = uint16(r.TCP.DstPort)
	case r.UDP != nil:
		key.Protocol = uint8(layers.IPProtocolUDP)
		key.SrcPort = uint16(r.UDP.SrcPort)
		key.DstPort = uint16(r.UDP.DstPort)
	default:
		return FlowKey{}, false
	}

	return key, true
}
