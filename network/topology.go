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
	"bytes"
	"fmt"
	"sort"
	"sync"
)

type Finder interface {
	// Device may return nil if a device whose ID is id does not exist.
	Device(id string) *Device
	Devices() []*Device
}

// topology is the registry of the joined devices. A device ID maps to exactly one live device.
type topology struct {
	mutex sync.RWMutex
	// Key is the device ID
	devices map[string]*Device
}

func newTopology() *topology {
	return &topology{
		devices: make(map[string]*Device),
	}
}

func (r *topology) String() string {
	var buf bytes.Buffer
	for _, v := range r.Devices() {
		buf.WriteString(fmt.Sprintf("%v\n", v))
	}

	return buf.String()
}

// Devices returns the joined devices in ID order.
func (r *topology) Devices() []*Device {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	v := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		v = append(v, d)
	}
	sort.Slice(v, func(i, j int) bool { return v[i].DPID() < v[j].DPID() })

	return v
}

func (r *topology) Device(id string) *Device {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.devices[id]
}

// join registers d. If another device with the same ID has been registered, d
// replaces it and the previous one is returned.
func (r *topology) join(d *Device) (prev *Device) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	id := d.ID()
	if len(id) == 0 {
		panic("joining a device whose ID is empty")
	}
	prev = r.devices[id]
	if prev == d {
		return nil
	}
	r.devices[id] = d

	return prev
}

// leave removes d only if d is still the registered device of its ID. It returns
// false if d has been replaced by a newer one.
func (r *topology) leave(d *Device) bool {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	id := d.ID()
	if r.devices[id] != d {
		return false
	}
	delete(r.devices, id)

	return true
}
