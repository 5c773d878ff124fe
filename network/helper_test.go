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
	"encoding"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/superkkt/quince/openflow/of13"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/pkg/errors"
)

type fakeWriter struct {
	mutex sync.Mutex
	msgs  []encoding.BinaryMarshaler
}

func (r *fakeWriter) Write(msg encoding.BinaryMarshaler) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Make sure that the message is valid.
	if _, err := msg.MarshalBinary(); err != nil {
		return err
	}
	r.msgs = append(r.msgs, msg)

	return nil
}

func (r *fakeWriter) messages() []encoding.BinaryMarshaler {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return append([]encoding.BinaryMarshaler{}, r.msgs...)
}

func (r *fakeWriter) reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.msgs = nil
}

func (r *fakeWriter) flowMods() []*of13.FlowMod {
	v := make([]*of13.FlowMod, 0)
	for _, m := range r.messages() {
		if f, ok := m.(*of13.FlowMod); ok {
			v = append(v, f)
		}
	}

	return v
}

type fakeListener struct {
	mutex   sync.Mutex
	events  []string
	devices []*Device
	packets []*Packet
	removed []FlowRemoved
	errors  []FlowRule
	stats   []PortStats
}

func (r *fakeListener) record(d *Device, format string, args ...interface{}) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.devices = append(r.devices, d)
}

func (r *fakeListener) OnDeviceUp(f Finder, d *Device) error {
	r.record(d, "device_up:%v", d.ID())
	return nil
}

func (r *fakeListener) OnDeviceDown(f Finder, d *Device) error {
	r.record(d, "device_down:%v", d.ID())
	return nil
}

func (r *fakeListener) OnPortUp(f Finder, p *Port) error {
	r.record(p.Device(), "port_up:%v", p.ID())
	return nil
}

func (r *fakeListener) OnPortDown(f Finder, p *Port) error {
	r.record(p.Device(), "port_down:%v", p.ID())
	return nil
}

func (r *fakeListener) OnPacketIn(f Finder, p *Port, packet *Packet) error {
	r.record(p.Device(), "packet_in:%v", p.ID())
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.packets = append(r.packets, packet)
	return nil
}

func (r *fakeListener) OnFlowRemoved(f Finder, d *Device, v FlowRemoved) error {
	r.record(d, "flow_removed:%v", v.Cookie)
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.removed = append(r.removed, v)
	return nil
}

func (r *fakeListener) OnFlowError(f Finder, d *Device, v FlowRule) error {
	r.record(d, "flow_error:%v", v.Cookie)
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.errors = append(r.errors, v)
	return nil
}

func (r *fakeListener) OnPortStats(f Finder, d *Device, v []PortStats) error {
	r.record(d, "port_stats:%v", d.ID())
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.stats = append(r.stats, v...)
	return nil
}

func (r *fakeListener) history() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return append([]string{}, r.events...)
}

func newTestSession(topo *topology, c *canceller, l EventListener) (*session, *fakeWriter) {
	w := new(fakeWriter)
	s := &session{
		negotiated: true,
		topo:       topo,
		cancellers: c,
		listener:   l,
	}
	s.device = newDevice(w, of13.NewFactory())

	return s, w
}

// newOF13Port returns an ofp_port whose number is num.
func newOF13Port(t *testing.T, num uint32, up bool) *of13.Port {
	data := make([]byte, 64)
	binary.BigEndian.PutUint32(data[0:4], num)
	copy(data[8:14], []byte{0x00, 0x11, 0x22, 0x33, 0x44, byte(num)})
	copy(data[16:32], fmt.Sprintf("eth%v", num))
	if !up {
		binary.BigEndian.PutUint32(data[36:40], of13.OFPPS_LINK_DOWN)
	}
	binary.BigEndian.PutUint32(data[56:60], 1000000)

	p := new(of13.Port)
	if err := p.UnmarshalBinary(data); err != nil {
		t.Fatalf("failed to unmarshal a port: %v", err)
	}

	return p
}

func newTCPFrame(t *testing.T, src, dst string, sport, dport uint16) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x0a},
		DstMAC:       net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
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

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp); err != nil {
		t.Fatalf("failed to serialize a frame: %v", err)
	}

	return buf.Bytes()
}

// newRawARPFrame returns an ARP request for target whose hardware addresses are hwSize bytes long.
func newRawARPFrame(hwSize int, target string) []byte {
	sender := make([]byte, hwSize)
	sender[hwSize-1] = 0x0a

	frame := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x00, 0x00, 0x0a, 0x08, 0x06}
	frame = append(frame, 0x00, 0x01, 0x08, 0x00, byte(hwSize), 4, 0x00, 0x01)
	frame = append(frame, sender...)
	frame = append(frame, 10, 0, 0, 1)
	frame = append(frame, make([]byte, hwSize)...)
	frame = append(frame, net.ParseIP(target).To4()...)

	return frame
}

// failingListener fails to handle every packet.
type failingListener struct {
	*fakeListener
}

func (r failingListener) OnPacketIn(f Finder, p *Port, packet *Packet) error {
	r.fakeListener.OnPacketIn(f, p, packet)
	return errors.New("failed to handle the packet")
}
