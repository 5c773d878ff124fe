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
	"sync"
)

// canceller keeps the function that disconnects the session of each device.
type canceller struct {
	mu    sync.Mutex
	elems map[string]cancelEntry
}

type cancelEntry struct {
	device *Device
	cancel context.CancelFunc
}

func newCanceller() *canceller {
	return &canceller{elems: make(map[string]cancelEntry)}
}

// push stores cancel of d and returns the previous one stored for the same device ID.
func (r *canceller) push(d *Device, cancel context.CancelFunc) (prev context.CancelFunc, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := d.ID()
	v, ok := r.elems[id]
	r.elems[id] = cancelEntry{device: d, cancel: cancel}
	if !ok || v.device == d {
		return nil, false
	}

	return v.cancel, true
}

// pop removes the cancel function of d unless it has been replaced by a newer device.
func (r *canceller) pop(d *Device) (cancel context.CancelFunc, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := d.ID()
	v, ok := r.elems[id]
	if !ok || v.device != d {
		return nil, false
	}
	delete(r.elems, id)

	return v.cancel, true
}
