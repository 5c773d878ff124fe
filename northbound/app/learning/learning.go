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
	"fmt"
	"sync"
	"time"

	"github.com/superkkt/quince/network"
	"github.com/superkkt/quince/northbound/app"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

const (
	// Priority of the learned rules. It should be larger than the table-miss entry.
	flowPriority = 10
	// Kind of the cookies of the learned rules.
	cookieKind = 8
)

var (
	logger = logging.MustGetLogger("learning")
)

type Config struct {
	// Seconds
	FlowIdleTimeout uint16 `mapstructure:"flow_idle_timeout"`
	// Broadcasts allowed per second
	StormLimit int `mapstructure:"storm_limit"`
	// Number of the MAC addresses learned per switch
	TableSize    int           `mapstructure:"table_size"`
	CacheTimeout time.Duration `mapstructure:"-"`
}

// bridge is the part of a switch that the learning bridge controls. *network.Device implements it.
type bridge interface {
	ID() string
	DPID() uint64
	IsPortUp(num uint32) bool
	InstallFlow(rule network.FlowRule) error
	RemoveFlowsToPort(num uint32) error
	PacketOut(inPort uint32, action network.FlowAction, data []byte) error
	Flood(inPort uint32, data []byte) error
}

// Learning is a reactive learning bridge for the switches of the access layer.
type Learning struct {
	app.BaseBehavior
	mutex      sync.Mutex
	conf       Config
	tables     map[bridge]*macTable
	inProgress *flowCache
	stormCtrl  *stormController
}

func New(c Config) *Learning {
	if c.StormLimit <= 0 {
		c.StormLimit = 100
	}
	if c.TableSize <= 0 {
		c.TableSize = 4096
	}
	if c.CacheTimeout <= 0 {
		c.CacheTimeout = 2 * time.Second
	}

	return &Learning{
		conf:       c,
		tables:     make(map[bridge]*macTable),
		inProgress: newFlowCache(c.CacheTimeout),
		stormCtrl:  newStormController(c.StormLimit, new(flooder)),
	}
}

type flooder struct{}

// flood broadcasts packet to all ports of the bridge, except the ingress port itself.
func (r *flooder) flood(b bridge, inPort uint32, packet []byte) error {
	return b.Flood(inPort, packet)
}

func (r *Learning) Name() string {
	return "Learning"
}

func (r *Learning) String() string {
	return fmt.Sprintf("%v", r.Name())
}

// Manages returns true for all switches. Learning is the fallback behavior.
func (r *Learning) Manages(dpid uint64) bool {
	return true
}

func (r *Learning) table(b bridge) *macTable {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	t, ok := r.tables[b]
	if !ok {
		t = newMACTable(r.conf.TableSize)
		r.tables[b] = t
	}

	return t
}

func (r *Learning) OnDeviceUp(finder network.Finder, device *network.Device) error {
	r.table(device)
	return nil
}

func (r *Learning) OnDeviceDown(finder network.Finder, device *network.Device) error {
	r.removeBridge(device)
	return nil
}

func (r *Learning) removeBridge(b bridge) {
	r.mutex.Lock()
	delete(r.tables, b)
	r.mutex.Unlock()

	// The rules of the other switches are not affected, but it is hard to tell which ones were for this switch.
	r.inProgress.removeAll()
	logger.Debugf("dropped the MAC table of %v", b.ID())
}

func (r *Learning) OnPacketIn(finder network.Finder, ingress *network.Port, packet *network.Packet) error {
	if err := r.forward(ingress.Device(), ingress.Number(), packet); err != nil {
		logger.Errorf("failed to forward a packet from %v: %v", ingress.ID(), err)
	}

	return nil
}

func (r *Learning) forward(b bridge, inPort uint32, packet *network.Packet) error {
	table := r.table(b)

	src, dst := packet.SrcMAC(), packet.DstMAC()
	if table.learn(src, inPort) {
		logger.Debugf("learned %v on %v:%v", src, b.ID(), inPort)
	}

	if packet.IsBroadcast() || dst[0]&0x01 != 0 {
		return r.stormCtrl.broadcast(b, inPort, packet.Data)
	}
	egress, ok := table.lookup(dst)
	if !ok {
		logger.Debugf("unknown destination %v: flooding..", dst)
		return r.stormCtrl.broadcast(b, inPort, packet.Data)
	}
	if egress == inPort {
		logger.Debugf("dropping a packet that goes back to the ingress port: src=%v, dst=%v, port=%v:%v", src, dst, b.ID(), inPort)
		return nil
	}
	if !b.IsPortUp(egress) {
		logger.Debugf("dropping a packet to a disconnected port: dst=%v, port=%v", dst, egress)
		return nil
	}

	if !r.inProgress.inProgress(b.DPID(), dst, egress) {
		rule := network.FlowRule{
			Cookie:      network.NewCookie(cookieKind),
			Match:       network.FlowMatch{DstMAC: dst},
			Action:      network.FlowAction{Output: egress},
			Priority:    flowPriority,
			IdleTimeout: r.conf.FlowIdleTimeout,
		}
		if err := b.InstallFlow(rule); err != nil {
			return errors.Wrapf(err, "installing a flow rule for %v on %v", dst, b.ID())
		}
		r.inProgress.add(b.DPID(), dst, egress)
		logger.Debugf("installed a new flow rule: %v", rule)
	}

	// Send this packet directly to the destination node.
	return b.PacketOut(inPort, network.FlowAction{Output: egress}, packet.Data)
}

func (r *Learning) OnPortDown(finder network.Finder, port *network.Port) error {
	logger.Warningf("port down! port=%v", port.ID())
	return r.removePort(port.Device(), port.Number())
}

// removePort forgets the addresses learned on the port and removes the rules heading to it.
func (r *Learning) removePort(b bridge, num uint32) error {
	n := r.table(b).forget(num)
	r.inProgress.removeAll()
	if err := b.RemoveFlowsToPort(num); err != nil {
		return errors.Wrapf(err, "removing flows heading to port %v:%v", b.ID(), num)
	}
	logger.Debugf("removed all flows heading to the port %v:%v (forgot %v addresses)", b.ID(), num, n)

	return nil
}
