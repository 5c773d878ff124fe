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
	"net"
	"testing"
	"time"
)

func TestMACTable(t *testing.T) {
	table := newMACTable(2)
	a := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x0a}
	b := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x0b}
	c := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x0c}

	if !table.learn(a, 1) || table.learn(a, 1) {
		t.Fatal("unexpected learning result of a new address")
	}
	// Moved.
	if !table.learn(a, 2) {
		t.Fatal("moved address should be learned")
	}
	if port, ok := table.lookup(a); !ok || port != 2 {
		t.Fatalf("unexpected port: %v, %v", port, ok)
	}

	table.learn(b, 3)
	// Evicts the least recently used one.
	table.lookup(a)
	table.learn(c, 3)
	if _, ok := table.lookup(b); ok {
		t.Fatal("b should be evicted")
	}
	if table.len() != 2 {
		t.Fatalf("unexpected length: %v", table.len())
	}

	if n := table.forget(3); n != 1 {
		t.Fatalf("unexpected number of forgotten addresses: %v", n)
	}
	if _, ok := table.lookup(c); ok {
		t.Fatal("c should be forgotten")
	}
	if _, ok := table.lookup(a); !ok {
		t.Fatal("a should not be forgotten")
	}
}

func TestFlowCache(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := newFlowCache(2 * time.Second)
	cache.now = func() time.Time { return now }
	mac := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x0a}

	if cache.inProgress(1, mac, 3) {
		t.Fatal("unexpected in-progress flow")
	}
	cache.add(1, mac, 3)
	if !cache.inProgress(1, mac, 3) {
		t.Fatal("flow should be in progress")
	}
	if cache.inProgress(2, mac, 3) || cache.inProgress(1, mac, 4) {
		t.Fatal("unexpected in-progress flow of another key")
	}

	now = now.Add(3 * time.Second)
	if cache.inProgress(1, mac, 3) {
		t.Fatal("flow should be timed out")
	}

	cache.add(1, mac, 3)
	cache.removeAll()
	if cache.inProgress(1, mac, 3) {
		t.Fatal("flow should be removed")
	}
}
