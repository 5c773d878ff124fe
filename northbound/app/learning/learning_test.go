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

package learning

import (
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/superkkt/quince/network"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/gopacket/gopacket/layers"
)

var addrComparer = cmp.Comparer(func(a, b netip.Addr) bool { return a == b })

type packetOut struct {
	InPort uint32
	Output uint32
}

type fakeBridge struct {
	mutex     sync.Mutex
	dpid      uint64
	up        map[uint32]bool
	installed []network.FlowRule
	removed   []uint32
	outs      []packetOut
	floods    []uint32
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		dpid: 7,
		up:   map[uint32]bool{1: true, 2: true, 3: true, 4: false},
	}
}

func (r *fakeBridge) ID() string {
	return "7"
}

func (r *fakeBridge) DPID() uint64 {
	return r.dpid
}

func (r *fakeBridge) IsPortUp(num uint32) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.up[num]
}

func (r *fakeBridge) InstallFlow(rule network.FlowRule) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.installed = append(r.installed, rule)
	return nil
}

func (r *fakeBridge) RemoveFlowsToPort(num uint32) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.removed = append(r.removed, num)
	return nil
}

func (r *fakeBridge) PacketOut(inPort uint32, action network.FlowAction, data []byte) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.outs = append(r.outs, packetOut{InPort: inPort, Output: action.Output})
	return nil
}

func (r *fakeBridge) Flood(inPort uint32, data []byte) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.floods = append(r.floods, inPort)
	return nil
}

func (r *fakeBridge) reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.installed = nil
	r.removed = nil
	r.outs = nil
	r.floods = nil
}

func mac(s string) net.HardwareAddr {
	v, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newFrame(src, dst string) *network.Packet {
	return &network.Packet{
		Data: []byte{0x01},
		Ethernet: layers.Ethernet{
			SrcMAC: mac(src),
			DstMAC: mac(dst),
		},
	}
}

const (
	hostA     = "02:00:00:00:00:0a"
	hostB     = "02:00:00:00:00:0b"
	hostC     = "02:00:00:00:00:0c"
	hostD     = "02:00:00:00:00:0d"
	hostF     = "02:00:00:00:00:0f"
	broadcast = "ff:ff:ff:ff:ff:ff"
	multicast = "01:00:5e:00:00:01"
)

func TestForward(t *testing.T) {
	tests := []struct {
		name     string
		inPort   uint32
		src, dst string
		// Destination MAC and output port of the installed rule, if any
		rule   *network.FlowMatch
		output uint32
		outs   []packetOut
		floods []uint32
	}{
		{name: "unknown destination", inPort: 1, src: hostA, dst: hostB, floods: []uint32{1}},
		{name: "known destination", inPort: 2, src: hostB, dst: hostA, rule: &network.FlowMatch{DstMAC: mac(hostA)}, output: 1, outs: []packetOut{{2, 1}}},
		{name: "rule in progress", inPort: 2, src: hostB, dst: hostA, outs: []packetOut{{2, 1}}},
		{name: "reverse direction", inPort: 1, src: hostA, dst: hostB, rule: &network.FlowMatch{DstMAC: mac(hostB)}, output: 2, outs: []packetOut{{1, 2}}},
		{name: "broadcast", inPort: 3, src: hostC, dst: broadcast, floods: []uint32{3}},
		{name: "multicast", inPort: 1, src: hostA, dst: multicast, floods: []uint32{1}},
		{name: "same port", inPort: 3, src: hostD, dst: hostC},
		{name: "learned on a down port", inPort: 4, src: hostF, dst: broadcast, floods: []uint32{4}},
		{name: "down port", inPort: 1, src: hostA, dst: hostF},
	}

	bridge := newFakeBridge()
	l := New(Config{FlowIdleTimeout: 60, CacheTimeout: time.Hour})
	for _, test := range tests {
		bridge.reset()
		if err := l.forward(bridge, test.inPort, newFrame(test.src, test.dst)); err != nil {
			t.Fatalf("%v: unexpected error: %v", test.name, err)
		}

		var rules []network.FlowRule
		if test.rule != nil {
			rules = []network.FlowRule{{
				Match:       *test.rule,
				Action:      network.FlowAction{Output: test.output},
				Priority:    flowPriority,
				IdleTimeout: 60,
			}}
		}
		if diff := cmp.Diff(rules, bridge.installed, addrComparer, cmpopts.IgnoreFields(network.FlowRule{}, "Cookie"), cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("%v: unexpected rules (-want +got):\n%v", test.name, diff)
		}
		if diff := cmp.Diff(test.outs, bridge.outs, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("%v: unexpected packet-outs (-want +got):\n%v", test.name, diff)
		}
		if diff := cmp.Diff(test.floods, bridge.floods, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("%v: unexpected floods (-want +got):\n%v", test.name, diff)
		}
		for _, r := range bridge.installed {
			if r.Cookie.Kind() != cookieKind {
				t.Fatalf("%v: unexpected cookie: %v", test.name, r.Cookie)
			}
		}
	}
}

func TestRemovePort(t *testing.T) {
	bridge := newFakeBridge()
	l := New(Config{CacheTimeout: time.Hour})
	for _, p := range []struct {
		inPort   uint32
		src, dst string
	}{
		{1, hostA, broadcast},
		{2, hostB, hostA},
	} {
		if err := l.forward(bridge, p.inPort, newFrame(p.src, p.dst)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	bridge.reset()
	if err := l.removePort(bridge, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cmp.Equal(bridge.removed, []uint32{2}) {
		t.Fatalf("unexpected removed ports: %v", bridge.removed)
	}

	// hostB is forgotten, and hostA is still known.
	if err := l.forward(bridge, 1, newFrame(hostA, hostB)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cmp.Equal(bridge.floods, []uint32{1}) || len(bridge.installed) != 0 {
		t.Fatalf("expected a flood: %v", spew.Sdump(bridge))
	}
	bridge.reset()
	if err := l.forward(bridge, 3, newFrame(hostC, hostA)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The rule toward hostA is installed again since the in-progress cache is cleared.
	if len(bridge.installed) != 1 || bridge.installed[0].Action.Output != 1 {
		t.Fatalf("unexpected rules: %v", spew.Sdump(bridge.installed))
	}

	// Removing the bridge drops its MAC table.
	l.removeBridge(bridge)
	bridge.reset()
	if err := l.forward(bridge, 3, newFrame(hostC, hostA)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cmp.Equal(bridge.floods, []uint32{3}) {
		t.Fatalf("expected a flood after the table is dropped: %v", spew.Sdump(bridge))
	}
}

func TestStormLimit(t *testing.T) {
	bridge := newFakeBridge()
	l := New(Config{StormLimit: 2})
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l.stormCtrl.now = clock.now

	for i := 0; i < 5; i++ {
		if err := l.forward(bridge, 1, newFrame(hostA, broadcast)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(bridge.floods) != 2 {
		t.Fatalf("expected 2 floods, got %v", len(bridge.floods))
	}
}
