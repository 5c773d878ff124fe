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
	"net"
	"net/netip"
	"sort"

	"github.com/pkg/errors"
)

// PortID is a physical attachment point.
type PortID struct {
	DPID uint64 `json:"dpid"`
	Port uint32 `json:"port"`
}

func (r PortID) String() string {
	return fmt.Sprintf("%v:%v", r.DPID, r.Port)
}

type server struct {
	name string
	ip   netip.Addr
	mac  net.HardwareAddr
	at   PortID
	// True if the attached port is up
	portUp bool
	// True if the operator marks the server unreachable
	disabled    bool
	connections uint64
}

func (r *server) healthy() bool {
	return r.portUp && !r.disabled
}

// member is a physical link of an aggregated link. The client side is the switch
// facing the clients and the server side is the switch hosting the servers.
type member struct {
	index    int
	client   PortID
	server   PortID
	clientUp bool
	serverUp bool
	load     LinkLoadCounter
	// Number of the flows currently assigned to this member
	flows int
	// Total bytes of the client side port reported by the last statistics reply
	lastBytes uint64
	sampled   bool
}

func (r *member) enabled() bool {
	return r.clientUp && r.serverUp
}

type aggregatedLink struct {
	name         string
	clientSwitch uint64
	serverSwitch uint64
	// Ordered by the member index
	members []*member
}

type memberRef struct {
	link   *aggregatedLink
	member *member
}

// registry is the Topology Registry: switches, their ports facing the servers and the
// aggregated links, and the port states. Membership is immutable after it is built.
type registry struct {
	vip           netip.Addr
	vmac          net.HardwareAddr
	servers       []*server
	serversByIP   map[netip.Addr]*server
	serversByPort map[PortID]*server
	links         []*aggregatedLink
	members       map[PortID]memberRef
	// Key is the DPID of a switch controlled by us. Value is the up state of its ports.
	switches map[uint64]map[uint32]bool
}

func newRegistry(c Config) (*registry, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	vip, err := parseIPv4(c.VirtualIP)
	if err != nil {
		return nil, errors.Wrap(err, "qos.virtual_ip")
	}
	vmac, err := parseMAC(c.VirtualMAC)
	if err != nil {
		return nil, errors.Wrap(err, "qos.virtual_mac")
	}

	r := &registry{
		vip:           vip,
		vmac:          vmac,
		serversByIP:   make(map[netip.Addr]*server),
		serversByPort: make(map[PortID]*server),
		members:       make(map[PortID]memberRef),
		switches:      make(map[uint64]map[uint32]bool),
	}
	if err := r.addServers(c.Servers); err != nil {
		return nil, err
	}
	if err := r.addLinks(c.AggregatedLinks); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *registry) addSwitch(dpid uint64) {
	if _, ok := r.switches[dpid]; !ok {
		r.switches[dpid] = make(map[uint32]bool)
	}
}

func (r *registry) addServers(servers []ServerConfig) error {
	names := make(map[string]bool)
	for _, v := range servers {
		if len(v.Name) == 0 {
			return errors.New("empty server name")
		}
		if names[v.Name] {
			return fmt.Errorf("duplicated server name: %v", v.Name)
		}
		names[v.Name] = true

		ip, err := parseIPv4(v.IP)
		if err != nil {
			return errors.Wrapf(err, "server %v", v.Name)
		}
		if ip == r.vip {
			return fmt.Errorf("server %v uses the virtual IP address", v.Name)
		}
		if _, ok := r.serversByIP[ip]; ok {
			return fmt.Errorf("duplicated server IP address: %v", ip)
		}
		mac, err := parseMAC(v.MAC)
		if err != nil {
			return errors.Wrapf(err, "server %v", v.Name)
		}
		if v.DPID == 0 || !validPort(v.Port) {
			return fmt.Errorf("invalid attachment point of server %v: dpid=%v, port=%v", v.Name, v.DPID, v.Port)
		}
		at := PortID{DPID: v.DPID, Port: v.Port}
		if s, ok := r.serversByPort[at]; ok {
			return errors.Wrapf(ErrInconsistentTopology, "servers %v and %v are attached to the same port %v", s.name, v.Name, at)
		}

		s := &server{name: v.Name, ip: ip, mac: mac, at: at}
		r.servers = append(r.servers, s)
		r.serversByIP[ip] = s
		r.serversByPort[at] = s
		r.addSwitch(v.DPID)
	}

	return nil
}

func (r *registry) hostsServer(dpid uint64) bool {
	for _, s := range r.servers {
		if s.at.DPID == dpid {
			return true
		}
	}

	return false
}

func (r *registry) addLinks(links []LinkConfig) error {
	names := make(map[string]bool)
	for _, v := range links {
		if len(v.Name) == 0 {
			return errors.New("empty aggregated link name")
		}
		if names[v.Name] {
			return fmt.Errorf("duplicated aggregated link name: %v", v.Name)
		}
		names[v.Name] = true

		if v.SwitchA == 0 || v.SwitchB == 0 || v.SwitchA == v.SwitchB {
			return errors.Wrapf(ErrInconsistentTopology, "aggregated link %v should connect two different switches", v.Name)
		}
		if len(v.Members) == 0 {
			return errors.Wrapf(ErrInconsistentTopology, "aggregated link %v has no member", v.Name)
		}

		// Normalize the direction so that the server side hosts the servers.
		serverA, serverB := r.hostsServer(v.SwitchA), r.hostsServer(v.SwitchB)
		if serverA == serverB {
			return errors.Wrapf(ErrInconsistentTopology, "exactly one end of aggregated link %v should host the servers", v.Name)
		}
		link := &aggregatedLink{name: v.Name, clientSwitch: v.SwitchA, serverSwitch: v.SwitchB}
		if serverA {
			link.clientSwitch, link.serverSwitch = v.SwitchB, v.SwitchA
		}

		for i, m := range v.Members {
			if !validPort(m.PortA) || !validPort(m.PortB) {
				return fmt.Errorf("invalid member port of aggregated link %v: port_a=%v, port_b=%v", v.Name, m.PortA, m.PortB)
			}
			a := PortID{DPID: v.SwitchA, Port: m.PortA}
			b := PortID{DPID: v.SwitchB, Port: m.PortB}
			for _, p := range []PortID{a, b} {
				if _, ok := r.members[p]; ok {
					return errors.Wrapf(ErrInconsistentTopology, "port %v belongs to multiple aggregation members", p)
				}
				if s, ok := r.serversByPort[p]; ok {
					return errors.Wrapf(ErrInconsistentTopology, "port %v is attached to server %v and aggregated link %v", p, s.name, v.Name)
				}
			}

			mem := &member{index: i, client: a, server: b}
			if serverA {
				mem.client, mem.server = b, a
			}
			link.members = append(link.members, mem)
			r.members[a] = memberRef{link: link, member: mem}
			r.members[b] = memberRef{link: link, member: mem}
		}
		r.links = append(r.links, link)
		r.addSwitch(v.SwitchA)
		r.addSwitch(v.SwitchB)
	}

	return nil
}

func (r *registry) isQoSSwitch(dpid uint64) bool {
	_, ok := r.switches[dpid]
	return ok
}

// serversAt returns the servers attached to the switch in configuration order.
func (r *registry) serversAt(dpid uint64) []*server {
	v := make([]*server, 0)
	for _, s := range r.servers {
		if s.at.DPID == dpid {
			v = append(v, s)
		}
	}

	return v
}

func (r *registry) server(name string) *server {
	for _, s := range r.servers {
		if s.name == name {
			return s
		}
	}

	return nil
}

// linkToServers returns the aggregated link whose client side is dpid.
func (r *registry) linkToServers(dpid uint64) *aggregatedLink {
	for _, l := range r.links {
		if l.clientSwitch == dpid {
			return l
		}
	}

	return nil
}

func (r *registry) member(p PortID) (memberRef, bool) {
	v, ok := r.members[p]
	return v, ok
}

// setPortState updates the state of port p and returns a description of the
// change for logging. It returns an empty string if nothing is changed.
func (r *registry) setPortState(p PortID, up bool) string {
	ports, ok := r.switches[p.DPID]
	if !ok {
		return ""
	}
	ports[p.Port] = up

	var desc string
	if s, ok := r.serversByPort[p]; ok && s.portUp != up {
		s.portUp = up
		desc = fmt.Sprintf("server %v is %v", s.name, upDown(up))
	}
	if ref, ok := r.members[p]; ok {
		m := ref.member
		prev := m.enabled()
		if m.client == p {
			m.clientUp = up
		} else {
			m.serverUp = up
		}
		if prev != m.enabled() {
			desc = fmt.Sprintf("member %v of aggregated link %v is %v", m.index, ref.link.name, enabledDisabled(m.enabled()))
		}
	}

	return desc
}

// setSwitchDown marks all the ports of the switch down.
func (r *registry) setSwitchDown(dpid uint64) []string {
	if _, ok := r.switches[dpid]; !ok {
		return nil
	}

	changes := make([]string, 0)
	for _, p := range r.managedPorts(dpid) {
		if desc := r.setPortState(p, false); len(desc) > 0 {
			changes = append(changes, desc)
		}
	}
	r.switches[dpid] = make(map[uint32]bool)

	return changes
}

// managedPorts returns the ports of the switch that face the servers or belong to aggregated links.
func (r *registry) managedPorts(dpid uint64) []PortID {
	v := make([]PortID, 0)
	for p := range r.serversByPort {
		if p.DPID == dpid {
			v = append(v, p)
		}
	}
	for p := range r.members {
		if p.DPID == dpid {
			v = append(v, p)
		}
	}
	sort.Slice(v, func(i, j int) bool { return v[i].Port < v[j].Port })

	return v
}

// upPorts returns the up ports of the switch in number order.
func (r *registry) upPorts(dpid uint64) []uint32 {
	v := make([]uint32, 0)
	for n, up := range r.switches[dpid] {
		if up {
			v = append(v, n)
		}
	}
	sort.Slice(v, func(i, j int) bool { return v[i] < v[j] })

	return v
}

func upDown(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

func enabledDisabled(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
