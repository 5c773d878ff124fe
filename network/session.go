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
	"context"
	"encoding"
	"net"
	"time"

	"github.com/superkkt/quince/openflow"
	"github.com/superkkt/quince/openflow/of13"
	"github.com/superkkt/quince/openflow/transceiver"

	"github.com/pkg/errors"
)

var (
	errNotNegotiated = errors.New("invalid command on non-negotiated session")
)

const (
	deviceExplorerInterval = 3 * time.Minute
	// Larger than the maximum length of an OpenFlow message.
	streamBufferSize = 0x1 << 16
)

type session struct {
	negotiated  bool
	device      *Device
	transceiver *transceiver.Transceiver
	topo        *topology
	cancellers  *canceller
	listener    EventListener
	// Port statistics polling period. Zero disables the polling.
	statsInterval time.Duration
	// A cancel function to disconnect this session.
	canceller context.CancelFunc
}

type sessionConfig struct {
	conn          net.Conn
	topo          *topology
	cancellers    *canceller
	listener      EventListener
	statsInterval time.Duration
}

func checkParam(c sessionConfig) {
	if c.conn == nil {
		panic("Conn is nil")
	}
	if c.topo == nil {
		panic("Topology is nil")
	}
	if c.cancellers == nil {
		panic("Canceller is nil")
	}
	if c.listener == nil {
		panic("Listener is nil")
	}
}

func newSession(c sessionConfig) *session {
	checkParam(c)

	stream := transceiver.NewStream(c.conn, streamBufferSize)
	v := &session{
		topo:          c.topo,
		cancellers:    c.cancellers,
		listener:      c.listener,
		statsInterval: c.statsInterval,
	}
	v.transceiver = transceiver.NewTransceiver(stream, v)
	v.device = newDevice(v.transceiver, v.transceiver.Factory())

	return v
}

func (r *session) OnHello(f *of13.Factory, w transceiver.Writer, v *of13.Hello) error {
	logger.Debugf("HELLO (ver=%v) is received", v.Version())

	// Ignore duplicated HELLO messages
	if r.negotiated {
		return nil
	}
	r.negotiated = true

	if err := w.Write(f.NewHello()); err != nil {
		return errors.Wrap(err, "failed to send HELLO")
	}
	if err := sendSetConfig(f, w); err != nil {
		return errors.Wrap(err, "failed to send SET_CONFIG")
	}
	if err := w.Write(f.NewFeaturesRequest()); err != nil {
		return errors.Wrap(err, "failed to send FEATURE_REQUEST")
	}
	if err := w.Write(f.NewBarrierRequest()); err != nil {
		return errors.Wrap(err, "failed to send BARRIER_REQUEST")
	}
	if err := sendRemovingAllFlows(f, w); err != nil {
		return errors.Wrap(err, "failed to send FLOW_MOD to remove all flows")
	}
	// Make sure that the installed flows are removed before setTableMiss() is called
	if err := w.Write(f.NewBarrierRequest()); err != nil {
		return errors.Wrap(err, "failed to send BARRIER_REQUEST")
	}
	if err := setTableMiss(f, w); err != nil {
		return errors.Wrap(err, "failed to set table_miss flow entry")
	}
	if err := w.Write(f.NewPortDescRequest()); err != nil {
		return errors.Wrap(err, "failed to send PORT_DESC_REQUEST")
	}

	return nil
}

func (r *session) OnError(f *of13.Factory, w transceiver.Writer, v *of13.Error) error {
	// Is this the CHECK_OVERLAP error?
	if v.Class == of13.OFPET_FLOW_MOD_FAILED && v.Code == of13.OFPFMFC_OVERLAP {
		// Ignore this CHECK_OVERLAP error
		logger.Debug("FLOW_MOD is overlapped")
		return nil
	}

	logger.Errorf("ERROR (device=%v, xid=%v, class=%v, code=%v, data=%v)", r.device.ID(), v.TransactionID(), v.Class, v.Code, v.Data)
	if !r.negotiated {
		return errNotNegotiated
	}

	rule, ok := r.device.rollbackFlow(v.TransactionID())
	if !ok || !r.isActive() {
		// Not a response for our FLOW_MOD. The session is still usable.
		return nil
	}
	logger.Warningf("rolled back the rejected flow rule on device %v: %v", r.device.ID(), rule)

	if err := r.listener.OnFlowError(r.topo, r.device, rule); err != nil {
		logger.Errorf("OnFlowError: %v", err)
	}

	return nil
}

// isActive returns whether this session owns a joined device that has not been replaced or closed.
func (r *session) isActive() bool {
	return r.device.isValid() && !r.device.IsClosed()
}

func (r *session) OnFeaturesReply(f *of13.Factory, w transceiver.Writer, v *of13.FeaturesReply) error {
	logger.Debugf("FEATURES_REPLY (DPID=%v, NumBufs=%v, NumTables=%v)", v.DPID, v.NumBuffers, v.NumTables)

	if !r.negotiated {
		return errNotNegotiated
	}

	// First FeaturesReply packet?
	if r.device.isValid() {
		// No, the device already has been initialized that means this is not the first FeaturesReply packet.
		logger.Debug("ignoring an additional FEATURES_REPLY")
		return nil
	}

	// We got a first FeaturesReply packet! Let's initialize this device.
	r.device.setFeatures(Features{
		DPID:       v.DPID,
		NumBuffers: v.NumBuffers,
		NumTables:  v.NumTables,
	})

	return r.join()
}

// join registers the device. Sometimes, a switch tries to make a new fresh connection even
// if it already has a main connection. We assume the switch has been reconnected with a
// cleared state, so the new session wins and the previous one is disconnected.
func (r *session) join() error {
	if cancel, ok := r.cancellers.push(r.device, r.canceller); ok && cancel != nil {
		cancel()
	}

	if prev := r.topo.join(r.device); prev != nil {
		logger.Warningf("duplicated device DPID %v: replacing the previous session", r.device.ID())
		// The previous session will not deliver the device down event because it no longer owns the device ID.
		prev.Close()
		if err := r.listener.OnDeviceDown(r.topo, prev); err != nil {
			logger.Errorf("OnDeviceDown: %v", err)
		}
	}
	logger.Infof("device joined (DPID=%v)", r.device.ID())

	// We assume a device is up after setting its DPID
	return r.listener.OnDeviceUp(r.topo, r.device)
}

func (r *session) OnBarrierReply(f *of13.Factory, w transceiver.Writer, v *of13.BarrierReply) error {
	logger.Debugf("BARRIER_REPLY (xid=%v) is received", v.TransactionID())

	if !r.negotiated {
		return errNotNegotiated
	}
	r.device.confirmFlows(v.TransactionID())

	return nil
}

func (r *session) sendPortEvent(port *Port, up bool) {
	if up {
		if err := r.listener.OnPortUp(r.topo, port); err != nil {
			logger.Errorf("OnPortUp: %v", err)
		}
	} else {
		if err := r.listener.OnPortDown(r.topo, port); err != nil {
			logger.Errorf("OnPortDown: %v", err)
		}
	}
}

func (r *session) OnPortDescReply(f *of13.Factory, w transceiver.Writer, v *of13.PortDescReply) error {
	logger.Debugf("PORT_DESC_REPLY is received (# of ports=%v)", len(v.Ports))

	if !r.negotiated {
		return errNotNegotiated
	}

	ports := r.device.setPorts(v.Ports)
	if !r.isActive() {
		return nil
	}
	for _, p := range ports {
		logger.Debugf("PortNum=%v, Up=%v", p.Number(), p.IsUp())
		r.sendPortEvent(p, p.IsUp())
	}

	return nil
}

func (r *session) OnPortStatus(f *of13.Factory, w transceiver.Writer, v *of13.PortStatus) error {
	logger.Debug("PORT_STATUS is received")

	if !r.negotiated {
		return errNotNegotiated
	}

	p := v.Port
	if p.Number() > of13.OFPP_MAX {
		return nil
	}
	logger.Debugf("Device=%v, PortNum=%v, AdminUp=%v, LinkUp=%v", r.device.ID(), p.Number(), !p.IsPortDown(), !p.IsLinkDown())

	var port *Port
	up := !p.IsPortDown() && !p.IsLinkDown()
	if v.Reason == of13.OFPPR_DELETE {
		port = r.device.removePort(p.Number())
		up = false
	} else {
		port = r.device.updatePort(p)
	}
	if port == nil || !r.isActive() {
		return nil
	}
	r.sendPortEvent(port, up)

	return nil
}

func (r *session) OnFlowRemoved(f *of13.Factory, w transceiver.Writer, v *of13.FlowRemoved) error {
	logger.Debugf("FLOW_REMOVED is received (cookie=%v, reason=%v)", v.Cookie, v.Reason)

	if !r.negotiated {
		return errNotNegotiated
	}

	c := Cookie(v.Cookie)
	if c.IsTableMiss() {
		logger.Warningf("table-miss flow entry is removed from device %v", r.device.ID())
		return nil
	}
	rule, ok := r.device.flowRemoved(c)
	if !r.isActive() {
		return nil
	}

	event := FlowRemoved{
		Cookie:      c,
		Reason:      RemovedReason(v.Reason),
		Rule:        rule,
		Known:       ok,
		Duration:    time.Duration(v.DurationSec)*time.Second + time.Duration(v.DurationNanoSec),
		PacketCount: v.PacketCount,
		ByteCount:   v.ByteCount,
	}
	if err := r.listener.OnFlowRemoved(r.topo, r.device, event); err != nil {
		logger.Errorf("OnFlowRemoved: %v", err)
	}

	return nil
}

func (r *session) OnPortStatsReply(f *of13.Factory, w transceiver.Writer, v *of13.PortStatsReply) error {
	logger.Debugf("PORT_STATS_REPLY is received (# of ports=%v)", len(v.Stats))

	if !r.negotiated {
		return errNotNegotiated
	}
	if !r.isActive() {
		return nil
	}

	stats := make([]PortStats, 0, len(v.Stats))
	for _, s := range v.Stats {
		if s.PortNumber > of13.OFPP_MAX {
			continue
		}
		stats = append(stats, PortStats{
			Port:      s.PortNumber,
			RxPackets: s.RxPackets,
			TxPackets: s.TxPackets,
			RxBytes:   s.RxBytes,
			TxBytes:   s.TxBytes,
			Duration:  time.Duration(s.DurationSec)*time.Second + time.Duration(s.DurationNanoSec),
		})
	}
	if err := r.listener.OnPortStats(r.topo, r.device, stats); err != nil {
		logger.Errorf("OnPortStats: %v", err)
	}

	return nil
}

func (r *session) OnPacketIn(f *of13.Factory, w transceiver.Writer, v *of13.PacketIn) error {
	if !r.negotiated {
		return errNotNegotiated
	}
	if !r.isActive() {
		logger.Debug("ignoring PACKET_IN from a device that is not joined")
		return nil
	}
	logger.Debugf("PACKET_IN is received (device=%v, inport=%v, reason=%v, tableID=%v, cookie=%v)",
		r.device.ID(), v.InPort, v.Reason, v.TableID, v.Cookie)

	inPort := r.device.Port(v.InPort)
	if inPort == nil {
		logger.Errorf("failed to find a port: deviceID=%v, portNum=%v, so ignore PACKET_IN..", r.device.ID(), v.InPort)
		return nil
	}
	packet, err := DecodePacket(v.Data)
	if err != nil {
		// Malformed packet. Just ignore it.
		logger.Debugf("ignoring PACKET_IN: %v", err)
		return nil
	}

	// A packet that the application fails to handle does not affect the session.
	if err := r.listener.OnPacketIn(r.topo, inPort, packet); err != nil {
		logger.Errorf("OnPacketIn: %v", err)
	}

	return nil
}

func (r *session) Run(ctx context.Context) {
	sessionCtx, canceller := context.WithCancel(ctx)
	defer canceller()
	// This canceller will be used to disconnect this session when it is necessary.
	r.canceller = canceller

	stopExplorer := r.runDeviceExplorer(sessionCtx)
	logger.Debugf("started a new device explorer")
	stopPoller := r.runStatsPoller(sessionCtx)

	if err := r.transceiver.Run(sessionCtx); err != nil {
		logger.Errorf("openflow transceiver is unexpectedly closed: %v", err)
	}
	logger.Infof("disconnected device (DPID=%v)", r.device.ID())

	stopExplorer()
	stopPoller()
	r.transceiver.Close()
	r.teardown()
}

// teardown releases the device unless it has been replaced by a newer session.
func (r *session) teardown() {
	r.device.Close()
	if !r.device.isValid() {
		return
	}
	r.cancellers.pop(r.device)
	if !r.topo.leave(r.device) {
		logger.Debugf("skip the device down event of the replaced session (DPID=%v)", r.device.ID())
		return
	}
	if err := r.listener.OnDeviceDown(r.topo, r.device); err != nil {
		logger.Errorf("OnDeviceDown: %v", err)
	}
}

func (r *session) runDeviceExplorer(ctx context.Context) context.CancelFunc {
	subCtx, canceller := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(deviceExplorerInterval)
		defer ticker.Stop()

		// Infinite loop. Note taht ticker will deliver the first tick after specified duration.
		for {
			select {
			case <-subCtx.Done():
				logger.Debugf("terminating the device explorer: deviceID=%v", r.device.ID())
				return
			case <-ticker.C:
			}

			if !r.device.isValid() {
				logger.Debug("skip to execute the device explorer due to incomplete device status")
				continue
			}
			logger.Debugf("executing the device explorer: deviceID=%v", r.device.ID())

			// Port events will be delivered by the reply handler.
			if err := r.device.SendMessage(r.device.Factory().NewPortDescRequest()); err != nil {
				logger.Errorf("failed to send a port description request: %v", err)
				continue
			}
		}
	}()

	return canceller
}

func (r *session) Write(msg encoding.BinaryMarshaler) error {
	return r.transceiver.Write(msg)
}

func sendSetConfig(f *of13.Factory, w transceiver.Writer) error {
	msg := f.NewSetConfig()
	msg.SetFlags(of13.OFPC_FRAG_NORMAL)
	msg.SetMissSendLength(of13.OFPCML_NO_BUFFER)

	return w.Write(msg)
}

func setTableMiss(f *of13.Factory, w transceiver.Writer) error {
	// 0 -> Controller
	outPort := openflow.NewOutPort()
	outPort.SetController()
	action := of13.NewAction()
	action.SetOutPort(outPort)

	msg := f.NewFlowMod(of13.OFPFC_ADD)
	// We use MSB to represent whether the flow is table miss or not
	msg.SetCookie(uint64(TableMissCookie))
	msg.SetTableID(0)
	// Permanent flow entry
	msg.SetIdleTimeout(0)
	msg.SetHardTimeout(0)
	// Table-miss entry should have zero priority
	msg.SetPriority(0)
	msg.SetFlowMatch(of13.NewMatch()) // Wildcard
	msg.SetFlowInstruction(&of13.ApplyAction{Action: action})

	if err := w.Write(msg); err != nil {
		return err
	}

	return w.Write(f.NewBarrierRequest())
}

func sendRemovingAllFlows(f *of13.Factory, w transceiver.Writer) error {
	msg := f.NewFlowMod(of13.OFPFC_DELETE)
	// Wildcard
	msg.SetTableID(of13.OFPTT_ALL)
	msg.SetFlowMatch(of13.NewMatch())

	return w.Write(msg)
}
