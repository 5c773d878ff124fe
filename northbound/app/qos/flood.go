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

// floodPorts returns the up ports of the switch that a broadcast packet received
// from inPort should be copied to. Only the first enabled member of each aggregated
// link participates in flooding, and a packet received from a member is never sent
// back over its own link.
func (r *registry) floodPorts(dpid uint64, inPort uint32) []uint32 {
	excluded := map[uint32]bool{inPort: true}

	var ingress *aggregatedLink
	if ref, ok := r.members[PortID{DPID: dpid, Port: inPort}]; ok {
		ingress = ref.link
	}
	for _, l := range r.links {
		if l.clientSwitch != dpid && l.serverSwitch != dpid {
			continue
		}
		chosen := false
		for _, m := range l.members {
			p := m.client
			if p.DPID != dpid {
				p = m.server
			}
			if l == ingress || chosen || !m.enabled() {
				excluded[p.Port] = true
				continue
			}
			chosen = true
		}
	}

	v := make([]uint32, 0)
	for _, p := range r.upPorts(dpid) {
		if !excluded[p] {
			v = append(v, p)
		}
	}

	return v
}
