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
	"net"
	"time"

	"github.com/op/go-logging"
)

var (
	logger = logging.MustGetLogger("network")
)

// EventListener receives the events of all the devices. Events of a device are
// delivered sequentially in the arrival order, but events of different devices may
// be delivered concurrently.
type EventListener interface {
	OnDeviceUp(Finder, *Device) error
	OnDeviceDown(Finder, *Device) error
	OnPortUp(Finder, *Port) error
	OnPortDown(Finder, *Port) error
	OnPacketIn(Finder, *Port, *Packet) error
	OnFlowRemoved(Finder, *Device, FlowRemoved) error
	// OnFlowError is called when the device rejects a flow rule that has been installed by InstallFlow.
	OnFlowError(Finder, *Device, FlowRule) error
	OnPortStats(Finder, *Device, []PortStats) error
}

type Config struct {
	// Port statistics polling period. Zero disables the polling.
	StatsInterval time.Duration
}

type Controller struct {
	topo       *topology
	cancellers *canceller
	listener   EventListener
	config     Config
}

func NewController(c Config) *Controller {
	return &Controller{
		topo:       newTopology(),
		cancellers: newCanceller(),
		config:     c,
	}
}

// AddConnection starts a new session on c. The event listener should be set before calling this function.
func (r *Controller) AddConnection(ctx context.Context, c net.Conn) {
	if r.listener == nil {
		panic("event listener is not set")
	}

	conf := sessionConfig{
		conn:          c,
		topo:          r.topo,
		cancellers:    r.cancellers,
		listener:      r.listener,
		statsInterval: r.config.StatsInterval,
	}
	session := newSession(conf)
	go session.Run(ctx)
}

func (r *Controller) SetEventListener(l EventListener) {
	r.listener = l
}

func (r *Controller) Device(id string) *Device {
	return r.topo.Device(id)
}

func (r *Controller) Devices() []*Device {
	return r.topo.Devices()
}

func (r *Controller) String() string {
	return r.topo.String()
}
