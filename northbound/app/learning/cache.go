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
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// macTable maps the MAC addresses learned on a switch to the ports they were seen on.
type macTable struct {
	cache *lru.Cache
}

func newMACTable(size int) *macTable {
	c, err := lru.New(size)
	if err != nil {
		panic(fmt.Sprintf("failed to init a LRU MAC table: %v", err))
	}

	return &macTable{cache: c}
}

// learn returns true if mac is a new address or it moved to another port.
func (r *macTable) learn(mac net.HardwareAddr, port uint32) bool {
	key := mac.String()
	if v, ok := r.cache.Get(key); ok && v.(uint32) == port {
		return false
	}
	r.cache.Add(key, port)

	return true
}

func (r *macTable) lookup(mac net.HardwareAddr) (port uint32, ok bool) {
	v, ok := r.cache.Get(mac.String())
	if !ok {
		return 0, false
	}

	return v.(uint32), true
}

// forget removes the addresses learned on port.
func (r *macTable) forget(port uint32) int {
	n := 0
	for _, k := range r.cache.Keys() {
		v, ok := r.cache.Peek(k)
		if !ok || v.(uint32) != port {
			continue
		}
		r.cache.Remove(k)
		n++
	}

	return n
}

func (r *macTable) len() int {
	return r.cache.Len()
}

// flowCache remembers the rules sent recently so that the packets queued before a
// rule is installed do not make duplicated FLOW_MODs.
type flowCache struct {
	cache      *lru.Cache
	expiration time.Duration
	now        func() time.Time
}

func newFlowCache(expiration time.Duration) *flowCache {
	c, err := lru.New(8192)
	if err != nil {
		panic(fmt.Sprintf("failed to init a LRU flow cache: %v", err))
	}

	return &flowCache{
		cache:      c,
		expiration: expiration,
		now:        time.Now,
	}
}

func (r *flowCache) key(dpid uint64, dst net.HardwareAddr, port uint32) string {
	return fmt.Sprintf("%v/%v/%v", dpid, dst, port)
}

func (r *flowCache) add(dpid uint64, dst net.HardwareAddr, port uint32) {
	// Update if the key already exists.
	r.cache.Add(r.key(dpid, dst, port), r.now())
}

func (r *flowCache) inProgress(dpid uint64, dst net.HardwareAddr, port uint32) bool {
	key := r.key(dpid, dst, port)
	v, ok := r.cache.Get(key)
	if !ok {
		return false
	}

	// Timeout?
	if r.now().Sub(v.(time.Time)) > r.expiration {
		r.cache.Remove(key)
		return false
	}

	return true
}

func (r *flowCache) removeAll() {
	r.cache.Purge()
}
