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

package qos

import (
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/superkkt/quince/network"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/spf13/viper"
)

const (
	serverSwitch = 1
	clientSwitch = 2
	// Port of clientSwitch facing the access layer
	accessPort = 10
	vip        = "10.0.0.100"
)

type packetOut struct {
	inPort uint32
	action network.FlowAction
	data   []byte
}

type multicast struct {
	inPort uint32
	ports  []uint32
}

type fakeWriter struct {
	mutex      sync.Mutex
	installed  []network.FlowRule
	removed    []network.Cookie
	packetOuts []packetOut
	multicasts []multicast
}

func (r *fakeWriter) InstallFlow(rule network.FlowRule) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.installed = append(r.installed, rule)
	return nil
}

func (r *fakeWriter) RemoveFlow(c network.Cookie) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.removed = append(r.removed, c)
	return nil
}

func (r *fakeWriter) PacketOut(inPort uint32, action network.FlowAction, data []byte) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.packetOuts = append(r.packetOuts, packetOut{inPort: inPort, action: action, data: data})
	return nil
}

func (r *fakeWriter) Multicast(inPort uint32, ports []uint32, data []byte) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.multicasts = append(r.multicasts, multicast{inPort: inPort, ports: ports})
	return nil
}

func (r *fakeWriter) reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.installed = nil
	r.removed = nil
	r.packetOuts = nil
	r.multicasts = nil
}

// testConfig returns two servers attached to serverSwitch and an aggregated link of two
// members between clientSwitch (ports 1, 2) and serverSwitch (ports 3, 4).
func testConfig() Config {
	return Config{
		VirtualIP:       vip,
		VirtualMAC:      "02:00:00:00:00:64",
		FlowIdleTimeout: 30,
		FlowWeight:      1000,
		Servers: []ServerConfig{
			{Name: "s0", IP: "10.0.0.10", MAC: "02:00:00:00:00:10", DPID: serverSwitch, Port: 1},
			{Name: "s1", IP: "10.0.0.11", MAC: "02:00:00:00:00:11", DPID: serverSwitch, Port: 2},
		},
		AggregatedLinks: []LinkConfig{
			{
				Name:    "uplink",
				SwitchA: clientSwitch,
				SwitchB: serverSwitch,
				Members: []MemberConfig{
					{PortA: 1, PortB: 3},
					{PortA: 2, PortB: 4},
				},
			},
		},
	}
}

type testBed struct {
	core      *Core
	server    *fakeWriter
	client    *fakeWriter
	decisions []Decision
}

// newTestBed returns a core whose switches have joined with all their ports up.
func newTestBed(t *testing.T, c Config) *testBed {
	core, err := NewCore(c, &RoundRobin{}, LeastLoad{})
	if err != nil {
		t.Fatalf("failed to create a core: %v", err)
	}

	bed := &testBed{core: core, server: &fakeWriter{}, client: &fakeWriter{}}
	core.SetObserver(func(d Decision) { bed.decisions = append(bed.decisions, d) })

	core.AddSwitch(serverSwitch, bed.server)
	for _, p := range []uint32{1, 2, 3, 4} {
		core.PortStatus(serverSwitch, bed.server, p, true)
	}
	core.AddSwitch(clientSwitch, bed.client)
	for _, p := range []uint32{1, 2, accessPort, accessPort + 1} {
		core.PortStatus(clientSwitch, bed.client, p, true)
	}

	return bed
}

func (r *testBed) servers() []string {
	v := make([]string, 0)
	for _, d := range r.decisions {
		if len(d.Server) > 0 {
			v = append(v, d.Server)
		}
	}

	return v
}

func (r *testBed) members() []int {
	v := make([]int, 0)
	for _, d := range r.decisions {
		if len(d.Server) == 0 {
			v = append(v, d.Member)
		}
	}

	return v
}

func serialize(t *testing.T, l ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, l...); err != nil {
		t.Fatalf("failed to serialize a frame: %v", err)
	}

	return buf.Bytes()
}

func decode(t *testing.T, frame []byte) *network.Packet {
	p, err := network.DecodePacket(frame)
	if err != nil {
		t.Fatalf("failed to decode a frame: %v", err)
	}

	return p
}

func newTCPPacket(t *testing.T, src, dst string, sport, dport uint16) *network.Packet {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x01, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x64},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(sport),
		DstPort: layers.TCPPort(dport),
		SYN:     true,
		Window:  1024,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("failed to set the network layer: %v", err)
	}

	return decode(t, serialize(t, eth, ip, tcp))
}

func newARPRequest(t *testing.T, sender, target string) *network.Packet {
	mac := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x01, 0x01}
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
		SourceProtAddress: net.ParseIP(sender).To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    net.ParseIP(target).To4(),
	}

	return decode(t, serialize(t, eth, arp))
}

func newTestViper(t *testing.T, yaml string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(yaml)); err != nil {
		t.Fatalf("failed to read the configuration: %v", err)
	}

	return v
}

// newLongARPRequest returns an ARP request whose hardware addresses are 8 bytes long.
func newLongARPRequest(t *testing.T, target string) *network.Packet {
	frame := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x02, 0x00, 0x00, 0x00, 0x01, 0x01, 0x08, 0x06}
	frame = append(frame, 0x00, 0x01, 0x08, 0x00, 8, 4, 0x00, 0x01)
	frame = append(frame, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x01)
	frame = append(frame, 192, 168, 0, 1)
	frame = append(frame, make([]byte, 8)...)
	frame = append(frame, net.ParseIP(target).To4()...)

	return decode(t, frame)
}
