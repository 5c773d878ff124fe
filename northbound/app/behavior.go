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

package app

import (
	"github.com/superkkt/quince/network"
)

// Behavior is a controller behavior attached to a set of switches. The behavior of a
// switch is selected once when the switch joins. Behavior should prepare to be
// executed by multiple goroutines simultaneously.
type Behavior interface {
	network.EventListener
	Init() error
	// Name returns the behavior name that is globally unique
	Name() string
	// Manages returns whether this behavior controls the switch whose datapath ID is dpid.
	Manages(dpid uint64) bool
}

// BaseBehavior ignores all the events. Behaviors embed it and override the events they are interested in.
type BaseBehavior struct{}

func (r *BaseBehavior) Init() error {
	return nil
}

func (r *BaseBehavior) Name() string {
	return "BaseBehavior"
}

func (r *BaseBehavior) Manages(dpid uint64) bool {
	return false
}

func (r *BaseBehavior) OnDeviceUp(finder network.Finder, device *network.Device) error {
	return nil
}

func (r *BaseBehavior) OnDeviceDown(finder network.Finder, device *network.Device) error {
	return nil
}

func (r *BaseBehavior) OnPortUp(finder network.Finder, port *network.Port) error {
	return nil
}

func (r *BaseBehavior) OnPortDown(finder network.Finder, port *network.Port) error {
	return nil
}

func (r *BaseBehavior) OnPacketIn(finder network.Finder, ingress *network.Port, packet *network.Packet) error {
	return nil
}

func (r *BaseBehavior) OnFlowRemoved(finder network.Finder, device *network.Device, flow network.FlowRemoved) error {
	return nil
}

func (r *BaseBehavior) OnFlowError(finder network.Finder, device *network.Device, rule network.FlowRule) error {
	return nil
}

func (r *BaseBehavior) OnPortStats(finder network.Finder, device *network.Device, stats []network.PortStats) error {
	return nil
}

// PacketOut sends packet from the controller to egress.
func (r *BaseBehavior) PacketOut(egress *network.Port, packet []byte) error {
	return egress.Device().PacketOut(0, network.FlowAction{Output: egress.Number()}, packet)
}
