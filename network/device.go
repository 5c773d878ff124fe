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
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/superkkt/quince/openflow"
	"github.com/superkkt/quince/openflow/of13"
	"github.com/superkkt/quince/openflow/transceiver"

	"github.com/pkg/errors"
)

type Features struct {
	DPID       uint64
	NumBuffers uint32
	NumTables  uint8
}

type Device struct {
	mutex    sync.RWMutex
	id       string
	features Features
	ports    map[uint32]*Port
	flows    *FlowTable
	// Key is the transaction ID of a FLOW_MOD that is not acknowledged yet.
	pending map[uint32]Cookie
	factory *of13.Factory
	writer  transceiver.Writer
	closed  bool
}

var (
	ErrClosedDevice  = errors.New("already closed device")
	ErrInvalidCookie = errors.New("invalid flow cookie")
)

func newDevice(w transceiver.Writer, f *of13.Factory) *Device {
	if w == nil {
		panic("Writer is nil")
	}
	if f == nil {
		panic("Factory is nil")
	}

	return &Device{
		ports:   make(map[uint32]*Port),
		flows:   NewFlowTable(),
		pending: make(map[uint32]Cookie),
		factory: f,
		writer:  w,
	}
}

func (r *Device) String() string {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	v := fmt.Sprintf("Device ID=%v, Features=%+v, # of ports=%v, # of flows=%v, Connected=%v\n", r.id, r.features, len(r.ports), r.flows.Len(), !r.closed)
	for _, p := range r.sortedPorts() {
		v += fmt.Sprintf("\tPort Number=%v, Up=%v\n", p.Number(), p.IsUp())
	}

	return v
}

// ID returns the decimal string of the datapath ID. It is empty until the device joins.
func (r *Device) ID() string {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.id
}

func (r *Device) DPID() uint64 {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.features.DPID
}

func (r *Device) isValid() bool {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.id) > 0
}

func (r *Device) Features() Features {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.features
}

func (r *Device) setFeatures(f Features) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.features = f
	r.id = strconv.FormatUint(f.DPID, 10)
}

// Port may return nil if there is no port whose number is num
func (r *Device) Port(num uint32) *Port {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.ports[num]
}

// Ports returns the ports in number order.
// IsPortUp returns whether the port whose number is num exists and is up.
func (r *Device) IsPortUp(num uint32) bool {
	p := r.Port(num)
	return p != nil && p.IsUp()
}

func (r *Device) Ports() []*Port {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.sortedPorts()
}

// XXX: Caller should lock the mutex
func (r *Device) sortedPorts() []*Port {
	p := make([]*Port, 0, len(r.ports))
	for _, v := range r.ports {
		p = append(p, v)
	}
	sort.Slice(p, func(i, j int) bool { return p[i].Number() < p[j].Number() })

	return p
}

// setPorts replaces the port table with ports and returns the new port table.
func (r *Device) setPorts(ports []*of13.Port) []*Port {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	table := make(map[uint32]*Port, len(ports))
	for _, v := range ports {
		if v.Number() > of13.OFPP_MAX {
			continue
		}
		port, ok := r.ports[v.Number()]
		if !ok {
			port = NewPort(r, v.Number())
		}
		port.SetValue(v)
		table[v.Number()] = port
	}
	r.ports = table

	return r.sortedPorts()
}

func (r *Device) updatePort(p *of13.Port) *Port {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if p == nil {
		panic("Port is nil")
	}
	logger.Debugf("Device=%v, PortNum=%v, AdminUp=%v, LinkUp=%v", r.id, p.Number(), !p.IsPortDown(), !p.IsLinkDown())

	port := r.ports[p.Number()]
	if port == nil {
		port = NewPort(r, p.Number())
		r.ports[p.Number()] = port
	}
	port.SetValue(p)

	return port
}

func (r *Device) removePort(num uint32) *Port {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	port := r.ports[num]
	delete(r.ports, num)

	return port
}

// Flows returns the flow table model of this device.
func (r *Device) Flows() []FlowRule {
	return r.flows.Rules()
}

func (r *Device) Flow(c Cookie) (FlowRule, bool) {
	return r.flows.Rule(c)
}

func (r *Device) Factory() *of13.Factory {
	return r.factory
}

func (r *Device) SendMessage(msg encoding.BinaryMarshaler) error {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if msg == nil {
		panic("Message is nil")
	}
	if r.closed {
		return ErrClosedDevice
	}

	return r.writer.Write(msg)
}

// InstallFlow adds rule to the flow table model and sends it to the device with
// a barrier request. The model entry is confirmed by the barrier reply, or rolled
// back if the device replies an error for the FLOW_MOD.
func (r *Device) InstallFlow(rule FlowRule) error {
	if rule.Cookie == 0 || rule.Cookie.IsTableMiss() {
		return ErrInvalidCookie
	}
	match, err := rule.Match.toOpenFlow()
	if err != nil {
		return errors.Wrap(err, "invalid flow match")
	}
	action, err := rule.Action.toOpenFlow()
	if err != nil {
		return errors.Wrap(err, "invalid flow action")
	}

	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return ErrClosedDevice
	}

	flowmod := r.factory.NewFlowMod(of13.OFPFC_ADD)
	flowmod.SetCookie(uint64(rule.Cookie))
	flowmod.SetTableID(0)
	flowmod.SetIdleTimeout(rule.IdleTimeout)
	flowmod.SetHardTimeout(rule.HardTimeout)
	flowmod.SetPriority(rule.Priority)
	flowmod.SetFlowMatch(match)
	flowmod.SetFlowInstruction(&of13.ApplyAction{Action: action})

	rule.Installed = time.Now()
	rule.Confirmed = false
	if replaced, ok := r.flows.Add(rule); ok {
		logger.Debugf("flow rule %v replaces %v on device %v", rule.Cookie, replaced.Cookie, r.id)
	}
	r.pending[flowmod.TransactionID()] = rule.Cookie

	if err := r.writer.Write(flowmod); err != nil {
		r.flows.Remove(rule.Cookie)
		delete(r.pending, flowmod.TransactionID())
		return errors.Wrap(err, "failed to send FLOW_MOD")
	}

	return r.writer.Write(r.factory.NewBarrierRequest())
}

func (r *Device) newDeleteFlowMod(cookie, mask uint64, port openflow.OutPort) *of13.FlowMod {
	flowmod := r.factory.NewFlowMod(of13.OFPFC_DELETE)
	flowmod.SetCookie(cookie)
	flowmod.SetCookieMask(mask)
	flowmod.SetTableID(of13.OFPTT_ALL)
	// Wildcard
	flowmod.SetFlowMatch(of13.NewMatch())
	flowmod.SetOutPort(port)

	return flowmod
}

// RemoveFlow removes the flow rule whose cookie is c from the device and from the flow table model.
func (r *Device) RemoveFlow(c Cookie) error {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return ErrClosedDevice
	}

	port := openflow.NewOutPort()
	port.SetNone()
	// Exact cookie match
	if err := r.writer.Write(r.newDeleteFlowMod(uint64(c), ^uint64(0), port)); err != nil {
		return err
	}
	r.flows.Remove(c)

	return nil
}

// RemoveAllFlows removes all the flows except the table-miss entry.
func (r *Device) RemoveAllFlows() error {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return ErrClosedDevice
	}

	port := openflow.NewOutPort()
	port.SetNone()
	// Remove flows except the table miss flows (Note that MSB of the cookie is a marker)
	if err := r.writer.Write(r.newDeleteFlowMod(0, uint64(TableMissCookie), port)); err != nil {
		return err
	}
	r.flows.Clear()

	return nil
}

// RemoveFlowsToPort removes the flows whose output port is num.
func (r *Device) RemoveFlowsToPort(num uint32) error {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return ErrClosedDevice
	}

	port := openflow.NewOutPort()
	port.SetValue(num)
	if err := r.writer.Write(r.newDeleteFlowMod(0, uint64(TableMissCookie), port)); err != nil {
		return err
	}
	r.flows.RemoveByOutput(num)

	return nil
}

func (r *Device) packetOut(inPort uint32, action *of13.Action, data []byte) error {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return ErrClosedDevice
	}

	in := openflow.NewInPort()
	if inPort != 0 {
		in.SetValue(inPort)
	}
	out := r.factory.NewPacketOut()
	out.SetInPort(in)
	out.SetAction(action)
	out.SetData(data)

	return r.writer.Write(out)
}

// PacketOut sends data to the device with action. Zero inPort means the controller.
func (r *Device) PacketOut(inPort uint32, action FlowAction, data []byte) error {
	a, err := action.toOpenFlow()
	if err != nil {
		return err
	}

	return r.packetOut(inPort, a, data)
}

// Flood sends data to all the ports except inPort.
func (r *Device) Flood(inPort uint32, data []byte) error {
	action := of13.NewAction()
	// Default output port is FLOOD
	action.SetOutPort(openflow.NewOutPort())

	return r.packetOut(inPort, action, data)
}

// Multicast sends data to ports.
func (r *Device) Multicast(inPort uint32, ports []uint32, data []byte) error {
	if len(ports) == 0 {
		return nil
	}

	action := of13.NewAction()
	for _, v := range ports {
		p := openflow.NewOutPort()
		p.SetValue(v)
		action.AddOutPort(p)
	}

	return r.packetOut(inPort, action, data)
}

// confirmFlows confirms the pending FLOW_MODs sent before the barrier request whose transaction ID is xid.
func (r *Device) confirmFlows(xid uint32) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for k, c := range r.pending {
		if k > xid {
			continue
		}
		r.flows.Confirm(c)
		delete(r.pending, k)
	}
}

// rollbackFlow removes the model entry of the FLOW_MOD whose transaction ID is xid.
func (r *Device) rollbackFlow(xid uint32) (rule FlowRule, ok bool) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	c, ok := r.pending[xid]
	if !ok {
		return FlowRule{}, false
	}
	delete(r.pending, xid)

	return r.flows.Remove(c)
}

func (r *Device) flowRemoved(c Cookie) (FlowRule, bool) {
	return r.flows.Remove(c)
}

func (r *Device) IsClosed() bool {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.closed
}

// Close marks the device disconnected and clears its flow table model.
func (r *Device) Close() {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.flows.Clear()
	r.pending = make(map[uint32]Cookie)
}
