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
	"fmt"
	"sort"
	"sync"
)

// FlowTable mirrors the flow entries installed on a switch. Entries are added
// optimistically when a FLOW_MOD is sent and removed on FLOW_REMOVED or on an error
// reply for the FLOW_MOD.
type FlowTable struct {
	mutex sync.RWMutex
	rules map[Cookie]FlowRule
	// Key is the priority and match of a rule. The switch replaces an entry that
	// has the identical match and priority.
	index map[string]Cookie
}

func NewFlowTable() *FlowTable {
	return &FlowTable{
		rules: make(map[Cookie]FlowRule),
		index: make(map[string]Cookie),
	}
}

func indexKey(rule FlowRule) string {
	return fmt.Sprintf("%v/%v", rule.Priority, rule.Match)
}

// Add adds rule to the table. It returns the entry replaced by rule, if any.
func (r *FlowTable) Add(rule FlowRule) (replaced FlowRule, ok bool) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := indexKey(rule)
	if c, exist := r.index[key]; exist && c != rule.Cookie {
		replaced, ok = r.rules[c]
		delete(r.rules, c)
	}
	r.rules[rule.Cookie] = rule
	r.index[key] = rule.Cookie

	return replaced, ok
}

func (r *FlowTable) Rule(c Cookie) (rule FlowRule, ok bool) {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	rule, ok = r.rules[c]
	return rule, ok
}

// Confirm marks the rule acknowledged by the switch.
func (r *FlowTable) Confirm(c Cookie) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	rule, ok := r.rules[c]
	if !ok {
		return
	}
	rule.Confirmed = true
	r.rules[c] = rule
}

// XXX: Caller should lock the mutex
func (r *FlowTable) remove(c Cookie) (rule FlowRule, ok bool) {
	rule, ok = r.rules[c]
	if !ok {
		return FlowRule{}, false
	}
	delete(r.rules, c)
	key := indexKey(rule)
	if r.index[key] == c {
		delete(r.index, key)
	}

	return rule, true
}

func (r *FlowTable) Remove(c Cookie) (rule FlowRule, ok bool) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.remove(c)
}

// RemoveByOutput removes the rules whose output port is port.
func (r *FlowTable) RemoveByOutput(port uint32) []FlowRule {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	removed := make([]FlowRule, 0)
	for c, v := range r.rules {
		if v.Action.Output != port {
			continue
		}
		r.remove(c)
		removed = append(removed, v)
	}
	sortRules(removed)

	return removed
}

// Clear removes all the rules except the table-miss entry and returns the number of removed rules.
func (r *FlowTable) Clear() int {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	n := 0
	for c := range r.rules {
		if c.IsTableMiss() {
			continue
		}
		r.remove(c)
		n++
	}

	return n
}

// Rules returns all the rules in cookie order.
func (r *FlowTable) Rules() []FlowRule {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	v := make([]FlowRule, 0, len(r.rules))
	for _, rule := range r.rules {
		v = append(v, rule)
	}
	sortRules(v)

	return v
}

func (r *FlowTable) Len() int {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.rules)
}

func sortRules(rules []FlowRule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].Cookie < rules[j].Cookie })
}
