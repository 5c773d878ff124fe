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
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

func TestDecodeTCP(t *testing.T) {
	p, err := DecodePacket(newTCPFrame(t, "192.168.0.10", "192.168.0.100", 5000, 443))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.IPv4 == nil || p.TCP == nil || p.UDP != nil || p.ARP != nil {
		t.Fatalf("unexpected layers: %+v", p)
	}
	key, ok := p.FlowKey()
	if !ok {
		t.Fatal("failed to get the flow key")
	}
	expected := FlowKey{
		SrcIP:    netip.MustParseAddr("192.168.0.10"),
		DstIP:    netip.MustParseAddr("192.168.0.100"),
		Protocol: 6,
		SrcPort:  5000,
		DstPort:  443,
	}
	if key != expected {
		t.Fatalf("unexpected flow key: expected=%v, actual=%v", expected, key)
	}
	if p.SrcMAC().String() != "00:00:00:00:00:0a" {
		t.Fatalf("unexpected source MAC: %v", p.SrcMAC())
	}
}

func TestDecodeARP(t *testing.T) {
	mac := net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x0a}
	eth := &layers.Ethernet{
		SrcMAC:       mac,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   mac,
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{10, 0, 0, 100},
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp); err != nil {
		t.Fatalf("failed to serialize: %v", err)
	}

	p, err := DecodePacket(buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.IsBroadcast() {
		t.Fatal("expected broadcast")
	}
	ok, target := p.IsARPRequest()
	if !ok || target != netip.MustParseAddr("10.0.0.100") {
		t.Fatalf("unexpected ARP request: ok=%v, target=%v", ok, target)
	}
	if _, ok := p.FlowKey(); ok {
		t.Fatal("ARP should not have a flow key")
	}
}

func TestDecodeForeignARP(t *testing.T) {
	tests := []struct {
		hwSize   int
		expected bool
	}{
		{6, true},
		{8, false},
		{4, false},
	}

	for _, test := range tests {
		p, err := DecodePacket(newRawARPFrame(test.hwSize, "10.0.0.100"))
		if err != nil {
			t.Fatalf("hwSize=%v: unexpected error: %v", test.hwSize, err)
		}
		if p.ARP == nil {
			t.Fatalf("hwSize=%v: ARP is not decoded", test.hwSize)
		}
		ok, target := p.IsARPRequest()
		if ok != test.expected {
			t.Fatalf("hwSize=%v: expected %v, got %v (target=%v)", test.hwSize, test.expected, ok, target)
		}
	}
}

func TestDecodeInvalid(t *testing.T) {
	if _, err := DecodePacket([]byte{0x01, 0x02}); err == nil {
		t.Fatal("expected error, but no error returns")
	}
}
