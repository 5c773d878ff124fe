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
	"net/netip"
	"reflect"
	"testing"

	"github.com/superkkt/quince/openflow/of13"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
)

func TestHandshake(t *testing.T) {
	s, w := newTestSession(newTopology(), newCanceller(), new(fakeListener))
	s.negotiated = false

	if err := s.OnHello(s.device.Factory(), w, of13.NewHello(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Duplicated HELLO should be ignored.
	if err := s.OnHello(s.device.Factory(), w, of13.NewHello(2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	types := make([]string, 0)
	for _, v := range w.messages() {
		types = append(types, reflect.TypeOf(v).Elem().Name())
	}
	expected := []string{
		"Hello",
		"SetConfig",
		"FeaturesRequest",
		"BarrierRequest",
		"FlowMod",
		"BarrierRequest",
		"FlowMod",
		"BarrierRequest",
		"PortDescRequest",
	}
	if diff := cmp.Diff(expected, types); diff != "" {
		t.Fatalf("unexpected handshake sequence (-want +got):\n%v", diff)
	}

	flows := w.flowMods()
	if flows[0].Command() != of13.OFPFC_DELETE || flows[0].TableID() != of13.OFPTT_ALL {
		t.Fatalf("the first FLOW_MOD should remove all flows: %v", spew.Sdump(flows[0]))
	}
	miss := flows[1]
	if Cookie(miss.Cookie()) != TableMissCookie || miss.Priority() != 0 {
		t.Fatalf("unexpected table-miss flow: cookie=%v, priority=%v", miss.Cookie(), miss.Priority())
	}
}

func TestNotNegotiated(t *testing.T) {
	s, w := newTestSession(newTopology(), newCanceller(), new(fakeListener))
	s.negotiated = false

	if err := s.OnFeaturesReply(s.device.Factory(), w, &of13.FeaturesReply{DPID: 1}); err != errNotNegotiated {
		t.Fatalf("expected errNotNegotiated, but got %v", err)
	}
}

func TestDuplicatedJoin(t *testing.T) {
	topo := newTopology()
	cancellers := newCanceller()
	listener := new(fakeListener)

	old, w1 := newTestSession(topo, cancellers, listener)
	cancelled := false
	old.canceller = func() { cancelled = true }
	if err := old.OnFeaturesReply(old.device.Factory(), w1, &of13.FeaturesReply{DPID: 7}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rule := FlowRule{
		Cookie: NewCookie(1),
		Match:  FlowMatch{InPort: 1},
		Action: FlowAction{Output: 2},
	}
	if err := old.device.InstallFlow(rule); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The switch reconnects with a new session.
	fresh, w2 := newTestSession(topo, cancellers, listener)
	fresh.canceller = func() {}
	if err := fresh.OnFeaturesReply(fresh.device.Factory(), w2, &of13.FeaturesReply{DPID: 7}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cancelled {
		t.Fatal("the previous session is not cancelled")
	}
	if !old.device.IsClosed() {
		t.Fatal("the previous device is not closed")
	}
	if len(old.device.Flows()) != 0 {
		t.Fatalf("the flow table model of the previous device is not cleared: %v", old.device.Flows())
	}
	if topo.Device("7") != fresh.device {
		t.Fatal("the registered device is not the new one")
	}

	// The old session exits after the new one joined.
	old.teardown()
	if topo.Device("7") != fresh.device {
		t.Fatal("the old session removed the new device")
	}
	// Events of the closed device should not be delivered.
	if err := old.OnPortDescReply(old.device.Factory(), w1, &of13.PortDescReply{Ports: []*of13.Port{newOF13Port(t, 1, true)}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"device_up:7", "device_down:7", "device_up:7"}
	if diff := cmp.Diff(expected, listener.history()); diff != "" {
		t.Fatalf("unexpected events (-want +got):\n%v", diff)
	}
	if listener.devices[1] != old.device || listener.devices[2] != fresh.device {
		t.Fatal("unexpected device in the events")
	}

	fresh.teardown()
	if topo.Device("7") != nil {
		t.Fatal("the device is not removed")
	}
	history := listener.history()
	if history[len(history)-1] != "device_down:7" {
		t.Fatalf("missing the device down event: %v", history)
	}
}

func joinedSession(t *testing.T, dpid uint64) (*session, *fakeWriter, *fakeListener) {
	listener := new(fakeListener)
	s, w := newTestSession(newTopology(), newCanceller(), listener)
	if err := s.OnFeaturesReply(s.device.Factory(), w, &of13.FeaturesReply{DPID: dpid}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.reset()

	return s, w, listener
}

func TestPortEvents(t *testing.T) {
	s, w, listener := joinedSession(t, 1)

	reply := &of13.PortDescReply{
		Ports: []*of13.Port{newOF13Port(t, 2, false), newOF13Port(t, 1, true), newOF13Port(t, of13.OFPP_LOCAL, true)},
	}
	if err := s.OnPortDescReply(s.device.Factory(), w, reply); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.device.Ports()) != 2 {
		t.Fatalf("unexpected number of ports: %v", len(s.device.Ports()))
	}
	if err := s.OnPortStatus(s.device.Factory(), w, &of13.PortStatus{Reason: of13.OFPPR_MODIFY, Port: newOF13Port(t, 2, true)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.OnPortStatus(s.device.Factory(), w, &of13.PortStatus{Reason: of13.OFPPR_DELETE, Port: newOF13Port(t, 1, true)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"device_up:1", "port_up:1:1", "port_down:1:2", "port_up:1:2", "port_down:1:1"}
	if diff := cmp.Diff(expected, listener.history()); diff != "" {
		t.Fatalf("unexpected events (-want +got):\n%v", diff)
	}
	if s.device.Port(1) != nil {
		t.Fatal("the deleted port still exists")
	}
	if !s.device.Port(2).IsUp() {
		t.Fatal("port 2 should be up")
	}
}

func TestFlowConfirmAndRollback(t *testing.T) {
	s, w, listener := joinedSession(t, 1)

	good := FlowRule{Cookie: NewCookie(1), Match: FlowMatch{InPort: 1}, Action: FlowAction{Output: 2}, Priority: 10}
	bad := FlowRule{Cookie: NewCookie(1), Match: FlowMatch{InPort: 2}, Action: FlowAction{Output: 1}, Priority: 10}
	if err := s.device.InstallFlow(good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.device.InstallFlow(bad); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flows := w.flowMods()
	if len(flows) != 2 {
		t.Fatalf("unexpected number of FLOW_MODs: %v", len(flows))
	}
	if flows[0].Flags()&of13.OFPFF_SEND_FLOW_REM == 0 {
		t.Fatal("SEND_FLOW_REM flag is not set")
	}

	// The switch rejects the second rule.
	e := &of13.Error{Class: of13.OFPET_FLOW_MOD_FAILED, Code: of13.OFPFMFC_TABLE_FULL}
	e.SetTransactionID(flows[1].TransactionID())
	if err := s.OnError(s.device.Factory(), w, e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.device.Flow(bad.Cookie); ok {
		t.Fatal("the rejected rule is not rolled back")
	}
	if len(listener.errors) != 1 || listener.errors[0].Cookie != bad.Cookie {
		t.Fatalf("unexpected flow errors: %v", spew.Sdump(listener.errors))
	}

	// Barrier reply for the last barrier request confirms the first rule.
	var last uint32
	for _, v := range w.messages() {
		if b, ok := v.(*of13.BarrierRequest); ok {
			last = b.TransactionID()
		}
	}
	reply := new(of13.BarrierReply)
	reply.SetTransactionID(last)
	if err := s.OnBarrierReply(s.device.Factory(), w, reply); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rule, ok := s.device.Flow(good.Cookie)
	if !ok || !rule.Confirmed {
		t.Fatalf("the rule is not confirmed: %v", spew.Sdump(rule))
	}
}

func TestFlowRemoved(t *testing.T) {
	s, w, listener := joinedSession(t, 1)

	rule := FlowRule{
		Cookie:      NewCookie(3),
		Match:       FlowMatch{Key: FlowKey{SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.100"), Protocol: 6, SrcPort: 1234, DstPort: 80}},
		Action:      FlowAction{DstIP: netip.MustParseAddr("10.0.1.1"), Output: 3},
		Priority:    100,
		IdleTimeout: 30,
	}
	if err := s.device.InstallFlow(rule); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := &of13.FlowRemoved{Cookie: uint64(rule.Cookie), Reason: of13.OFPRR_IDLE_TIMEOUT, ByteCount: 1500}
	if err := s.OnFlowRemoved(s.device.Factory(), w, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listener.removed) != 1 {
		t.Fatalf("unexpected flow removed events: %v", listener.history())
	}
	v := listener.removed[0]
	if !v.Known || v.Reason != RemovedByIdleTimeout || v.ByteCount != 1500 {
		t.Fatalf("unexpected flow removed event: %v", spew.Sdump(v))
	}
	if v.Rule.Match.Key != rule.Match.Key {
		t.Fatalf("unexpected removed rule: %v", v.Rule)
	}
	if len(s.device.Flows()) != 0 {
		t.Fatalf("the flow table model is not updated: %v", s.device.Flows())
	}
}

func TestPacketIn(t *testing.T) {
	s, w, listener := joinedSession(t, 1)
	if err := s.OnPortDescReply(s.device.Factory(), w, &of13.PortDescReply{Ports: []*of13.Port{newOF13Port(t, 1, true)}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame := newTCPFrame(t, "10.0.0.1", "10.0.0.100", 40000, 80)
	if err := s.OnPacketIn(s.device.Factory(), w, &of13.PacketIn{InPort: 1, Data: frame}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Unknown ingress port
	if err := s.OnPacketIn(s.device.Factory(), w, &of13.PacketIn{InPort: 9, Data: frame}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Malformed packet
	if err := s.OnPacketIn(s.device.Factory(), w, &of13.PacketIn{InPort: 1, Data: []byte{0x00}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(listener.packets) != 1 {
		t.Fatalf("unexpected number of packets: %v", len(listener.packets))
	}
	key, ok := listener.packets[0].FlowKey()
	if !ok {
		t.Fatal("failed to get the flow key")
	}
	if key.String() != "10.0.0.1:40000->10.0.0.100:80/6" {
		t.Fatalf("unexpected flow key: %v", key)
	}
}

func TestPacketInFailure(t *testing.T) {
	listener := failingListener{new(fakeListener)}
	s, w := newTestSession(newTopology(), newCanceller(), listener)
	if err := s.OnFeaturesReply(s.device.Factory(), w, &of13.FeaturesReply{DPID: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.OnPortDescReply(s.device.Factory(), w, &of13.PortDescReply{Ports: []*of13.Port{newOF13Port(t, 1, true)}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The session survives a packet that the application cannot handle.
	frames := [][]byte{
		newRawARPFrame(8, "10.0.0.100"),
		newTCPFrame(t, "10.0.0.1", "10.0.0.100", 40000, 80),
	}
	for _, frame := range frames {
		if err := s.OnPacketIn(s.device.Factory(), w, &of13.PacketIn{InPort: 1, Data: frame}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(listener.packets) != 2 {
		t.Fatalf("unexpected number of packets: %v", len(listener.packets))
	}
	if !s.isActive() {
		t.Fatal("the session should be still active")
	}
}

func TestPortStats(t *testing.T) {
	s, w, listener := joinedSession(t, 1)

	reply := &of13.PortStatsReply{
		Stats: []of13.PortStats{
			{PortNumber: 1, RxBytes: 100, TxBytes: 200},
			{PortNumber: of13.OFPP_LOCAL, RxBytes: 1},
		},
	}
	if err := s.OnPortStatsReply(s.device.Factory(), w, reply); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []PortStats{{Port: 1, RxBytes: 100, TxBytes: 200}}
	if diff := cmp.Diff(expected, listener.stats); diff != "" {
		t.Fatalf("unexpected port stats (-want +got):\n%v", diff)
	}
}
