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
	"net"
	"net/netip"
	"sync"

	"github.com/superkkt/quince/network"

	"github.com/pkg/errors"
)

var (
	ErrNoHealthyServer = errors.New("no healthy server")
)

// ServerState is a read-only view of a backend server.
type ServerState struct {
	Name        string           `json:"name"`
	IP          netip.Addr       `json:"ip"`
	MAC         net.HardwareAddr `json:"-"`
	DPID        uint64           `json:"dpid"`
	Port        uint32           `json:"port"`
	Healthy     bool             `json:"healthy"`
	Disabled    bool             `json:"disabled"`
	Connections uint64           `json:"connections"`
}

func (r *server) state() ServerState {
	return ServerState{
		Name:        r.name,
		IP:          r.ip,
		MAC:         r.mac,
		DPID:        r.at.DPID,
		Port:        r.at.Port,
		Healthy:     r.healthy(),
		Disabled:    r.disabled,
		Connections: r.connections,
	}
}

// LoadBalancer selects the backend server of a new connection. It is invoked once per
// connection. record is called with the chosen server before ChooseServer returns.
type LoadBalancer interface {
	ChooseServer(conn network.FlowKey, servers []ServerState, record func(name string)) (ServerState, error)
}

// RoundRobin rotates through the servers skipping the unhealthy ones. The rotation
// index is shared by all the connections so that concurrent admissions are assigned
// distinct servers.
type RoundRobin struct {
	mutex sync.Mutex
	next  uint64
}

func (r *RoundRobin) ChooseServer(conn network.FlowKey, servers []ServerState, record func(name string)) (ServerState, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	n := uint64(len(servers))
	for k := uint64(0); k < n; k++ {
		i := (r.next + k) % n
		s := servers[i]
		if !s.Healthy {
			continue
		}
		r.next += k + 1
		record(s.Name)

		return s, nil
	}

	return ServerState{}, ErrNoHealthyServer
}
