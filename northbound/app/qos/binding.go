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
	"sort"
	"time"

	"github.com/superkkt/quince/network"
)

// binding is a ServerBinding: the server chosen for a connection and the rule pair
// installed on the switch hosting the server.
type binding struct {
	// Connection identity: client -> virtual IP address
	key    network.FlowKey
	server *server
	dpid   uint64
	// Ingress port of the forward packets
	inPort  uint32
	forward network.FlowRule
	reverse network.FlowRule
	created time.Time
}

func (r *binding) flowKey() network.FlowKey {
	return r.key
}

func (r *binding) cookies() []network.Cookie {
	return []network.Cookie{r.forward.Cookie, r.reverse.Cookie}
}

// assignment pins a flow to a member of an aggregated link on the client side switch.
type assignment struct {
	key    network.FlowKey
	link   *aggregatedLink
	member *member
	dpid   uint64
	inPort uint32
	// Optimistic weight accounted on the member and the epoch of the member's counter at the time.
	weight  uint64
	epoch   uint64
	forward network.FlowRule
	reverse network.FlowRule
	created time.Time
}

func (r *assignment) flowKey() network.FlowKey {
	return r.key
}

func (r *assignment) cookies() []network.Cookie {
	return []network.Cookie{r.forward.Cookie, r.reverse.Cookie}
}

// release gives back the optimistic weight of the flow to its member.
func (r *assignment) release() {
	r.member.load.release(r.weight, r.epoch)
	if r.member.flows > 0 {
		r.member.flows--
	}
}

type decision interface {
	comparable
	flowKey() network.FlowKey
	cookies() []network.Cookie
}

// decisionTable indexes the decisions by their flow key and by the cookies of their rules.
type decisionTable[T decision] struct {
	byKey    map[network.FlowKey]T
	byCookie map[network.Cookie]T
}

func newDecisionTable[T decision]() *decisionTable[T] {
	return &decisionTable[T]{
		byKey:    make(map[network.FlowKey]T),
		byCookie: make(map[network.Cookie]T),
	}
}

func (r *decisionTable[T]) add(v T) {
	r.byKey[v.flowKey()] = v
	for _, c := range v.cookies() {
		r.byCookie[c] = v
	}
}

func (r *decisionTable[T]) remove(v T) {
	// The key may have been taken over by a newer decision of the same flow.
	if r.byKey[v.flowKey()] == v {
		delete(r.byKey, v.flowKey())
	}
	for _, c := range v.cookies() {
		delete(r.byCookie, c)
	}
}

func (r *decisionTable[T]) lookup(key network.FlowKey) (T, bool) {
	v, ok := r.byKey[key]
	return v, ok
}

func (r *decisionTable[T]) lookupCookie(c network.Cookie) (T, bool) {
	v, ok := r.byCookie[c]
	return v, ok
}

// removeIf removes the decisions that match f and returns them.
func (r *decisionTable[T]) removeIf(f func(T) bool) []T {
	removed := make([]T, 0)
	for _, v := range r.all() {
		if !f(v) {
			continue
		}
		r.remove(v)
		removed = append(removed, v)
	}

	return removed
}

func (r *decisionTable[T]) len() int {
	return len(r.byKey)
}

// all returns the decisions in flow key order.
func (r *decisionTable[T]) all() []T {
	v := make([]T, 0, len(r.byKey))
	for _, d := range r.byKey {
		v = append(v, d)
	}
	sort.Slice(v, func(i, j int) bool { return v[i].flowKey().String() < v[j].flowKey().String() })

	return v
}
