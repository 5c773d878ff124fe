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
	"github.com/superkkt/quince/network"

	"github.com/pkg/errors"
)

var (
	ErrNoActiveMember = errors.New("no active aggregation member")
)

// LinkLoadCounter estimates the load carried by an aggregation member. The value is
// only meaningful when it is compared with the other members of the same link.
type LinkLoadCounter struct {
	// Bytes carried during the last statistics interval plus the weights of the
	// flows assigned since then.
	Value uint64 `json:"value"`
	// Estimated is true if Value includes optimistic weights that are not reconciled yet.
	Estimated bool `json:"estimated"`
	// Epoch increases whenever the counter is reconciled.
	Epoch uint64 `json:"epoch"`
}

// add accounts the weight of a new flow optimistically.
func (r *LinkLoadCounter) add(weight uint64) {
	r.Value += weight
	r.Estimated = true
}

// release subtracts the weight of an expired flow. The weight added before the last
// reconciliation has already been replaced by the actual byte count.
func (r *LinkLoadCounter) release(weight, epoch uint64) {
	if epoch != r.Epoch {
		return
	}
	if r.Value < weight {
		r.Value = 0
	} else {
		r.Value -= weight
	}
}

// reconcile overwrites the estimate with the actual bytes.
func (r *LinkLoadCounter) reconcile(bytes uint64) {
	r.Value = bytes
	r.Estimated = false
	r.Epoch++
}

// MemberState is a read-only view of an aggregation member.
type MemberState struct {
	Index      int             `json:"index"`
	ClientPort PortID          `json:"client_port"`
	ServerPort PortID          `json:"server_port"`
	Enabled    bool            `json:"enabled"`
	Load       LinkLoadCounter `json:"load"`
	Flows      int             `json:"flows"`
}

type LinkState struct {
	Name         string        `json:"name"`
	ClientSwitch uint64        `json:"client_switch"`
	ServerSwitch uint64        `json:"server_switch"`
	Members      []MemberState `json:"members"`
}

func (r *aggregatedLink) state() LinkState {
	v := LinkState{
		Name:         r.name,
		ClientSwitch: r.clientSwitch,
		ServerSwitch: r.serverSwitch,
		Members:      make([]MemberState, 0, len(r.members)),
	}
	for _, m := range r.members {
		v.Members = append(v.Members, MemberState{
			Index:      m.index,
			ClientPort: m.client,
			ServerPort: m.server,
			Enabled:    m.enabled(),
			Load:       m.load,
			Flows:      m.flows,
		})
	}

	return v
}

// LinkAggregator selects the member of an aggregated link that carries a new flow.
// record is called with the chosen member index before ChooseMember returns.
type LinkAggregator interface {
	ChooseMember(flow network.FlowKey, link LinkState, record func(member int)) (int, error)
}

// LeastLoad selects the enabled member whose load counter is the lowest. Ties are
// broken by the lowest member index.
type LeastLoad struct{}

func (r LeastLoad) ChooseMember(flow network.FlowKey, link LinkState, record func(member int)) (int, error) {
	var chosen *MemberState
	for i := range link.Members {
		m := &link.Members[i]
		if !m.Enabled {
			continue
		}
		if chosen == nil || m.Load.Value < chosen.Load.Value || (m.Load.Value == chosen.Load.Value && m.Index < chosen.Index) {
			chosen = m
		}
	}
	if chosen == nil {
		return 0, ErrNoActiveMember
	}
	record(chosen.Index)

	return chosen.Index, nil
}
