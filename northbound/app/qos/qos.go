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
	"fmt"

	"github.com/superkkt/quince/network"
	"github.com/superkkt/quince/northbound/app"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

const (
	journalQueueSize = 1024
)

var (
	logger = logging.MustGetLogger("qos")
)

type database interface {
	AddDecision(d Decision) error
}

// QoS is the behavior of the switches that host the backend servers or terminate
// the aggregated links.
type QoS struct {
	app.BaseBehavior
	core    *Core
	db      database
	journal chan Decision
}

// New returns a QoS behavior that balances with RoundRobin and aggregates with
// LeastLoad. db can be nil to disable the decision journal.
func New(c Config, db database) (*QoS, error) {
	return NewWithPolicy(c, &RoundRobin{}, LeastLoad{}, db)
}

func NewWithPolicy(c Config, lb LoadBalancer, lag LinkAggregator, db database) (*QoS, error) {
	core, err := NewCore(c, lb, lag)
	if err != nil {
		return nil, err
	}

	v := &QoS{core: core, db: db}
	if db != nil {
		v.journal = make(chan Decision, journalQueueSize)
		core.SetObserver(v.enqueue)
	}

	return v, nil
}

func (r *QoS) Init() error {
	if r.db != nil {
		go r.recordDecisions()
	}

	return nil
}

func (r *QoS) Name() string {
	return "QoS"
}

func (r *QoS) String() string {
	return fmt.Sprintf("%v", r.Name())
}

func (r *QoS) Manages(dpid uint64) bool {
	return r.core.Manages(dpid)
}

// Core returns the decision engine for the operator interfaces.
func (r *QoS) Core() *Core {
	return r.core
}

func (r *QoS) enqueue(d Decision) {
	select {
	case r.journal <- d:
	default:
		logger.Warningf("decision journal queue is full: dropping %v", d)
	}
}

func (r *QoS) recordDecisions() {
	logger.Debug("executed the decision journal")

	for d := range r.journal {
		if err := r.db.AddDecision(d); err != nil {
			logger.Errorf("failed to record a decision: %v", err)
		}
	}
}

func (r *QoS) OnDeviceUp(finder network.Finder, device *network.Device) error {
	r.core.AddSwitch(device.DPID(), device)
	// Ports reported before the device joined.
	for _, p := range device.Ports() {
		r.core.PortStatus(device.DPID(), device, p.Number(), p.IsUp())
	}

	return nil
}

func (r *QoS) OnDeviceDown(finder network.Finder, device *network.Device) error {
	r.core.RemoveSwitch(device.DPID(), device)
	return nil
}

func (r *QoS) OnPortUp(finder network.Finder, port *network.Port) error {
	d := port.Device()
	r.core.PortStatus(d.DPID(), d, port.Number(), true)

	return nil
}

func (r *QoS) OnPortDown(finder network.Finder, port *network.Port) error {
	d := port.Device()
	r.core.PortStatus(d.DPID(), d, port.Number(), false)

	return nil
}

func (r *QoS) OnPacketIn(finder network.Finder, ingress *network.Port, packet *network.Packet) error {
	d := ingress.Device()
	err := r.core.PacketIn(d.DPID(), d, ingress.Number(), packet)
	if err == nil {
		return nil
	}

	switch errors.Cause(err) {
	case ErrNoHealthyServer, ErrNoActiveMember:
		// The client will retransmit the packet.
		logger.Debugf("dropped a packet: %v", err)
	default:
		logger.Errorf("failed to handle a packet on %v: %v", ingress.ID(), err)
	}

	return nil
}

func (r *QoS) OnFlowRemoved(finder network.Finder, device *network.Device, flow network.FlowRemoved) error {
	return r.core.FlowRemoved(device.DPID(), device, flow.Cookie)
}

func (r *QoS) OnFlowError(finder network.Finder, device *network.Device, rule network.FlowRule) error {
	logger.Warningf("switch %v refused a flow rule: %v", device.ID(), rule)
	return r.core.FlowError(device.DPID(), device, rule.Cookie)
}

func (r *QoS) OnPortStats(finder network.Finder, device *network.Device, stats []network.PortStats) error {
	r.core.PortStats(device.DPID(), device, stats)
	return nil
}
