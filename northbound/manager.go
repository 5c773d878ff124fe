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

package northbound

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/superkkt/quince/network"
	"github.com/superkkt/quince/northbound/app"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

var (
	logger = logging.MustGetLogger("northbound")
)

type EventSender interface {
	SetEventListener(network.EventListener)
}

// Manager dispatches the events of each switch to the behavior selected for the
// switch when it joined.
type Manager struct {
	mutex sync.RWMutex
	// Registered behaviors in priority order
	behaviors []app.Behavior
	// Fallback for the switches that no behavior manages
	fallback app.Behavior
	selected map[*network.Device]app.Behavior
}

func NewManager() *Manager {
	return &Manager{
		selected: make(map[*network.Device]app.Behavior),
	}
}

// Register initializes and adds b. A behavior registered earlier has higher priority.
func (r *Manager) Register(b app.Behavior) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, v := range r.behaviors {
		if strings.EqualFold(v.Name(), b.Name()) {
			return fmt.Errorf("duplicated behavior: %v", b.Name())
		}
	}
	if err := b.Init(); err != nil {
		return errors.Wrapf(err, "initializing %v behavior", b.Name())
	}
	r.behaviors = append(r.behaviors, b)
	logger.Debugf("registered %v behavior", b.Name())

	return nil
}

// SetFallback sets the behavior for the switches that no registered behavior manages.
func (r *Manager) SetFallback(b app.Behavior) error {
	if err := r.Register(b); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.fallback = b

	return nil
}

func (r *Manager) AddEventSender(sender EventSender) {
	sender.SetEventListener(r)
}

// XXX: Caller should lock the mutex
func (r *Manager) choose(dpid uint64) app.Behavior {
	for _, v := range r.behaviors {
		if v == r.fallback {
			continue
		}
		if v.Manages(dpid) {
			return v
		}
	}

	return r.fallback
}

// Behavior returns the behavior selected for device. It returns nil if there is no one.
func (r *Manager) Behavior(device *network.Device) app.Behavior {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.selected[device]
}

func (r *Manager) OnDeviceUp(finder network.Finder, device *network.Device) error {
	b := func() app.Behavior {
		// Write lock
		r.mutex.Lock()
		defer r.mutex.Unlock()

		v := r.choose(device.DPID())
		if v != nil {
			r.selected[device] = v
		}
		return v
	}()
	if b == nil {
		logger.Warningf("no behavior for device %v", device.ID())
		return nil
	}
	logger.Infof("%v behavior is selected for device %v", b.Name(), device.ID())

	return b.OnDeviceUp(finder, device)
}

func (r *Manager) OnDeviceDown(finder network.Finder, device *network.Device) error {
	b := func() app.Behavior {
		// Write lock
		r.mutex.Lock()
		defer r.mutex.Unlock()

		v := r.selected[device]
		delete(r.selected, device)
		return v
	}()
	if b == nil {
		return nil
	}

	return b.OnDeviceDown(finder, device)
}

func (r *Manager) OnPortUp(finder network.Finder, port *network.Port) error {
	b := r.Behavior(port.Device())
	if b == nil {
		return nil
	}

	return b.OnPortUp(finder, port)
}

func (r *Manager) OnPortDown(finder network.Finder, port *network.Port) error {
	b := r.Behavior(port.Device())
	if b == nil {
		return nil
	}

	return b.OnPortDown(finder, port)
}

func (r *Manager) OnPacketIn(finder network.Finder, ingress *network.Port, packet *network.Packet) error {
	b := r.Behavior(ingress.Device())
	if b == nil {
		return nil
	}

	return b.OnPacketIn(finder, ingress, packet)
}

func (r *Manager) OnFlowRemoved(finder network.Finder, device *network.Device, flow network.FlowRemoved) error {
	b := r.Behavior(device)
	if b == nil {
		return nil
	}

	return b.OnFlowRemoved(finder, device, flow)
}

func (r *Manager) OnFlowError(finder network.Finder, device *network.Device, rule network.FlowRule) error {
	b := r.Behavior(device)
	if b == nil {
		return nil
	}

	return b.OnFlowError(finder, device, rule)
}

func (r *Manager) OnPortStats(finder network.Finder, device *network.Device, stats []network.PortStats) error {
	b := r.Behavior(device)
	if b == nil {
		return nil
	}

	return b.OnPortStats(finder, device, stats)
}

func (r *Manager) String() string {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var buf bytes.Buffer
	for _, b := range r.behaviors {
		n := 0
		for _, v := range r.selected {
			if v == b {
				n++
			}
		}
		buf.WriteString(fmt.Sprintf("%v: %v switch(es)\n", b.Name(), n))
	}

	return buf.String()
}
