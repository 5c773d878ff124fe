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
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/superkkt/quince/network"

	"github.com/pkg/errors"
)

const (
	// Priority of the rules installed by the policies. It should be larger than
	// the table-miss entry.
	flowPriority = 20
)

// Kinds of the flow cookies issued by this package.
const (
	kindBalanceForward uint8 = 1 + iota
	kindBalanceReverse
	kindAggregateForward
	kindAggregateReverse
	// Rules pinning a flow to a server port. They carry no decision and simply expire.
	kindDirectForward
	kindDirectReverse
)

var (
	ErrUnknownServer = errors.New("unknown server")
)

// switchWriter is the part of a switch session that the core sends commands to.
// *network.Device implements it.
type switchWriter interface {
	InstallFlow(rule network.FlowRule) error
	RemoveFlow(c network.Cookie) error
	PacketOut(inPort uint32, action network.FlowAction, data []byte) error
	Multicast(inPort uint32, ports []uint32, data []byte) error
}

// Decision is a decision log entry.
type Decision struct {
	Timestamp time.Time
	DPID      uint64
	Flow      network.FlowKey
	// Chosen server. Empty if the decision selected an aggregation member.
	Server string
	// Aggregated link and its chosen member. Member is -1 if the decision selected a server.
	Link   string
	Member int
}

func (r Decision) String() string {
	if len(r.Server) > 0 {
		return fmt.Sprintf("dpid=%v, flow=%v, server=%v", r.DPID, r.Flow, r.Server)
	}
	return fmt.Sprintf("dpid=%v, flow=%v, link=%v, member=%v", r.DPID, r.Flow, r.Link, r.Member)
}

// commands are the protocol commands and the notifications collected under the
// core lock. They are executed after the lock is released.
type commands []func() error

func (r *commands) add(f func() error) {
	*r = append(*r, f)
}

// run executes all the commands and returns the first error.
func (r commands) run() error {
	var first error
	for _, f := range r {
		if err := f(); err != nil && first == nil {
			first = err
		}
	}

	return first
}

// Core is the decision engine of the QoS switches. It exclusively owns the topology
// registry and the decisions; every mutation is serialized by its mutex.
type Core struct {
	mutex       sync.Mutex
	registry    *registry
	lb          LoadBalancer
	lag         LinkAggregator
	writers     map[uint64]switchWriter
	bindings    *decisionTable[*binding]
	assignments *decisionTable[*assignment]
	idleTimeout uint16
	hardTimeout uint16
	weight      uint64
	// Called for each new decision outside of the lock. Can be nil.
	observer func(Decision)
}

func NewCore(c Config, lb LoadBalancer, lag LinkAggregator) (*Core, error) {
	if lb == nil || lag == nil {
		panic("nil policy")
	}

	reg, err := newRegistry(c)
	if err != nil {
		return nil, err
	}

	return &Core{
		registry:    reg,
		lb:          lb,
		lag:         lag,
		writers:     make(map[uint64]switchWriter),
		bindings:    newDecisionTable[*binding](),
		assignments: newDecisionTable[*assignment](),
		idleTimeout: c.FlowIdleTimeout,
		hardTimeout: c.FlowHardTimeout,
		weight:      c.FlowWeight,
	}, nil
}

// SetObserver sets the function that receives the decisions. It should be called before the core is used.
func (r *Core) SetObserver(f func(Decision)) {
	r.observer = f
}

func (r *Core) Manages(dpid uint64) bool {
	// registry.switches is never modified after the registry is built.
	return r.registry.isQoSSwitch(dpid)
}

// isCurrent returns whether w is the registered session of the switch. Caller should hold the lock.
func (r *Core) isCurrent(dpid uint64, w switchWriter) bool {
	v, ok := r.writers[dpid]
	return ok && v == w
}

// AddSwitch registers w as the session of the switch. The ports of the switch are
// regarded as down until they are reported up.
func (r *Core) AddSwitch(dpid uint64, w switchWriter) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.writers[dpid] = w
	logger.Infof("QoS switch joined: dpid=%v", dpid)
}

// RemoveSwitch releases all the state that depends on the switch if w is still its
// registered session. No command is sent to the other switches; the decisions whose
// path traversed the switch are forgotten so that their next packet is handled as a
// new flow.
func (r *Core) RemoveSwitch(dpid uint64, w switchWriter) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isCurrent(dpid, w) {
		logger.Debugf("ignoring a stale session of QoS switch %v", dpid)
		return
	}
	delete(r.writers, dpid)

	for _, desc := range r.registry.setSwitchDown(dpid) {
		logger.Infof("%v (dpid=%v left)", desc, dpid)
	}

	bindings := r.bindings.removeIf(func(b *binding) bool {
		if b.dpid == dpid {
			return true
		}
		// Forward path from the client side switch of an aggregated link.
		ref, ok := r.registry.member(PortID{DPID: b.dpid, Port: b.inPort})
		return ok && ref.link.clientSwitch == dpid
	})
	activeBindings.Set(float64(r.bindings.len()))

	assignments := r.assignments.removeIf(func(a *assignment) bool {
		return a.dpid == dpid || a.link.serverSwitch == dpid
	})
	for _, a := range assignments {
		a.release()
		r.exportLoad(a.link, a.member)
	}

	for _, l := range r.registry.links {
		for _, m := range l.members {
			if m.client.DPID == dpid {
				// Port counters restart with the new session.
				m.sampled = false
			}
		}
	}
	logger.Infof("QoS switch left: dpid=%v, released bindings=%v, released assignments=%v", dpid, len(bindings), len(assignments))
}

// PortStatus updates the state of a port of the switch.
func (r *Core) PortStatus(dpid uint64, w switchWriter, port uint32, up bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isCurrent(dpid, w) {
		return
	}
	if desc := r.registry.setPortState(PortID{DPID: dpid, Port: port}, up); len(desc) > 0 {
		logger.Infof("%v (dpid=%v, port=%v)", desc, dpid, port)
	}
}

// SetServerReachable marks the server reachable or unreachable. Existing bindings are not affected.
func (r *Core) SetServerReachable(name string, reachable bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s := r.registry.server(name)
	if s == nil {
		return errors.Wrap(ErrUnknownServer, name)
	}
	s.disabled = !reachable
	logger.Infof("server %v is marked %v", name, reachableString(reachable))

	return nil
}

func reachableString(reachable bool) string {
	if reachable {
		return "reachable"
	}
	return "unreachable"
}

// PacketIn handles a packet that did not match any rule of the switch.
func (r *Core) PacketIn(dpid uint64, w switchWriter, inPort uint32, p *network.Packet) error {
	cmds, err := r.packetIn(dpid, w, inPort, p)
	if e := cmds.run(); e != nil && err == nil {
		err = e
	}

	return err
}

func (r *Core) packetIn(dpid uint64, w switchWriter, inPort uint32, p *network.Packet) (commands, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	cmds := commands{}
	if !r.isCurrent(dpid, w) {
		return cmds, nil
	}

	if ok, target := p.IsARPRequest(); ok && target == r.registry.vip {
		reply, err := newARPReply(r.registry.vip, r.registry.vmac, p.ARP)
		if err != nil {
			return cmds, errors.Wrap(err, "failed to make an ARP reply")
		}
		cmds.add(func() error { return w.PacketOut(0, network.FlowAction{Output: inPort}, reply) })
		return cmds, nil
	}

	key, ok := p.FlowKey()
	if !ok {
		r.flood(&cmds, dpid, w, inPort, p)
		return cmds, nil
	}

	switch {
	case key.DstIP == r.registry.vip:
		if len(r.registry.serversAt(dpid)) > 0 {
			return cmds, r.balance(&cmds, dpid, w, inPort, key, p)
		}
		if l := r.registry.linkToServers(dpid); l != nil {
			return cmds, r.aggregate(&cmds, dpid, w, inPort, l, key, p)
		}
		logger.Debugf("dropping a packet to the virtual IP address at a switch that is neither a server switch nor a link end: dpid=%v, flow=%v", dpid, key)
	case key.SrcIP == r.registry.vip:
		r.returnAssigned(&cmds, dpid, w, key, p)
	case r.registry.serversByIP[key.DstIP] != nil:
		return cmds, r.direct(&cmds, dpid, w, inPort, r.registry.serversByIP[key.DstIP], key, p)
	case r.registry.serversByIP[key.SrcIP] != nil:
		if !r.returnBound(&cmds, dpid, w, key, p) {
			// A reply of a flow addressed to the server itself.
			r.returnAssigned(&cmds, dpid, w, key, p)
		}
	default:
		r.flood(&cmds, dpid, w, inPort, p)
	}

	return cmds, nil
}

func (r *Core) flood(cmds *commands, dpid uint64, w switchWriter, inPort uint32, p *network.Packet) {
	ports := r.registry.floodPorts(dpid, inPort)
	if len(ports) == 0 {
		return
	}
	cmds.add(func() error { return w.Multicast(inPort, ports, p.Data) })
}

func (r *Core) balance(cmds *commands, dpid uint64, w switchWriter, inPort uint32, key network.FlowKey, p *network.Packet) error {
	if b, ok := r.bindings.lookup(key); ok {
		if b.dpid != dpid {
			logger.Debugf("dropping a packet of flow %v bound at another switch %v (dpid=%v)", key, b.dpid, dpid)
			return nil
		}
		// The rules are being installed, or the packet was queued before they were installed.
		cmds.add(func() error { return w.PacketOut(inPort, b.forward.Action, p.Data) })
		return nil
	}

	servers := r.registry.serversAt(dpid)
	candidates := make([]ServerState, len(servers))
	for i, s := range servers {
		candidates[i] = s.state()
	}
	chosen, err := r.lb.ChooseServer(key, candidates, func(name string) {
		s := r.registry.server(name)
		s.connections++
		connectionsTotal.WithLabelValues(name).Inc()
	})
	if err != nil {
		policyExhaustedTotal.WithLabelValues(policyLoadBalancing).Inc()
		return errors.Wrapf(err, "flow %v at dpid %v", key, dpid)
	}
	s := r.registry.server(chosen.Name)

	b := &binding{
		key:     key,
		server:  s,
		dpid:    dpid,
		inPort:  inPort,
		created: time.Now(),
		forward: r.newRule(kindBalanceForward, key, network.FlowAction{
			DstMAC: s.mac,
			DstIP:  s.ip,
			Output: s.at.Port,
		}),
		reverse: r.newRule(kindBalanceReverse, network.FlowKey{
			SrcIP:    s.ip,
			DstIP:    key.SrcIP,
			Protocol: key.Protocol,
			SrcPort:  key.DstPort,
			DstPort:  key.SrcPort,
		}, network.FlowAction{
			SrcMAC: r.registry.vmac,
			SrcIP:  r.registry.vip,
			Output: inPort,
		}),
	}
	r.bindings.add(b)
	activeBindings.Set(float64(r.bindings.len()))

	// Return path first so that the first reply of the server never reaches the controller.
	cmds.add(func() error { return w.InstallFlow(b.reverse) })
	cmds.add(func() error { return w.InstallFlow(b.forward) })
	cmds.add(func() error { return w.PacketOut(inPort, b.forward.Action, p.Data) })
	r.notify(cmds, Decision{Timestamp: b.created, DPID: dpid, Flow: key, Server: s.name, Member: -1})

	return nil
}

func (r *Core) aggregate(cmds *commands, dpid uint64, w switchWriter, inPort uint32, l *aggregatedLink, key network.FlowKey, p *network.Packet) error {
	if a, ok := r.assignments.lookup(key); ok && a.dpid == dpid {
		cmds.add(func() error { return w.PacketOut(inPort, a.forward.Action, p.Data) })
		return nil
	}

	var epoch uint64
	index, err := r.lag.ChooseMember(key, l.state(), func(member int) {
		m := l.members[member]
		epoch = m.load.Epoch
		m.load.add(r.weight)
		m.flows++
		memberFlowsTotal.WithLabelValues(l.name, strconv.Itoa(member)).Inc()
		r.exportLoad(l, m)
	})
	if err != nil {
		policyExhaustedTotal.WithLabelValues(policyLinkAggregation).Inc()
		return errors.Wrapf(err, "flow %v on aggregated link %v", key, l.name)
	}
	m := l.members[index]

	a := &assignment{
		key:     key,
		link:    l,
		member:  m,
		dpid:    dpid,
		inPort:  inPort,
		weight:  r.weight,
		epoch:   epoch,
		created: time.Now(),
		forward: r.newRule(kindAggregateForward, key, network.FlowAction{Output: m.client.Port}),
		reverse: r.newRule(kindAggregateReverse, key.Reverse(), network.FlowAction{Output: inPort}),
	}
	r.assignments.add(a)

	cmds.add(func() error { return w.InstallFlow(a.reverse) })
	cmds.add(func() error { return w.InstallFlow(a.forward) })
	cmds.add(func() error { return w.PacketOut(inPort, a.forward.Action, p.Data) })
	r.notify(cmds, Decision{Timestamp: a.created, DPID: dpid, Flow: key, Link: l.name, Member: index})

	return nil
}

// direct pins a flow addressed to the real IP address of a server. The server switch
// forwards it to the server without rewriting, and the client end of the aggregated
// link spreads it over the members as the flows to the virtual IP address.
func (r *Core) direct(cmds *commands, dpid uint64, w switchWriter, inPort uint32, s *server, key network.FlowKey, p *network.Packet) error {
	if s.at.DPID == dpid {
		if inPort == s.at.Port {
			logger.Debugf("dropping a looped packet of flow %v at the server port %v", key, s.at)
			return nil
		}
		forward := r.newRule(kindDirectForward, key, network.FlowAction{Output: s.at.Port})
		reverse := r.newRule(kindDirectReverse, key.Reverse(), network.FlowAction{Output: inPort})
		cmds.add(func() error { return w.InstallFlow(reverse) })
		cmds.add(func() error { return w.InstallFlow(forward) })
		cmds.add(func() error { return w.PacketOut(inPort, forward.Action, p.Data) })
		logger.Debugf("pinned flow %v to server %v", key, s.name)
		return nil
	}

	if l := r.registry.linkToServers(dpid); l != nil && l.serverSwitch == s.at.DPID {
		return r.aggregate(cmds, dpid, w, inPort, l, key, p)
	}
	r.flood(cmds, dpid, w, inPort, p)

	return nil
}

// returnAssigned forwards a returning packet of a pinned flow whose return rule has expired.
func (r *Core) returnAssigned(cmds *commands, dpid uint64, w switchWriter, key network.FlowKey, p *network.Packet) {
	a, ok := r.assignments.lookup(key.Reverse())
	if !ok || a.dpid != dpid {
		logger.Debugf("dropping a returning packet of an unknown flow: dpid=%v, flow=%v", dpid, key)
		return
	}
	cmds.add(func() error { return w.InstallFlow(a.reverse) })
	cmds.add(func() error { return w.PacketOut(0, a.reverse.Action, p.Data) })
}

// returnBound forwards a reply of a server whose return rule has expired.
func (r *Core) returnBound(cmds *commands, dpid uint64, w switchWriter, key network.FlowKey, p *network.Packet) (found bool) {
	b, ok := r.bindings.lookup(network.FlowKey{
		SrcIP:    key.DstIP,
		DstIP:    r.registry.vip,
		Protocol: key.Protocol,
		SrcPort:  key.DstPort,
		DstPort:  key.SrcPort,
	})
	if !ok || b.dpid != dpid || b.server.ip != key.SrcIP {
		return false
	}
	cmds.add(func() error { return w.InstallFlow(b.reverse) })
	cmds.add(func() error { return w.PacketOut(0, b.reverse.Action, p.Data) })

	return true
}

func (r *Core) newRule(kind uint8, key network.FlowKey, action network.FlowAction) network.FlowRule {
	return network.FlowRule{
		Cookie:      network.NewCookie(kind),
		Match:       network.FlowMatch{Key: key},
		Action:      action,
		Priority:    flowPriority,
		IdleTimeout: r.idleTimeout,
		HardTimeout: r.hardTimeout,
	}
}

func (r *Core) notify(cmds *commands, d Decision) {
	logger.Infof("new decision: %v", d)
	if r.observer == nil {
		return
	}
	f := r.observer
	cmds.add(func() error {
		f(d)
		return nil
	})
}

// exportLoad updates the load gauge of the member. Caller should hold the lock.
func (r *Core) exportLoad(l *aggregatedLink, m *member) {
	memberLoadBytes.WithLabelValues(l.name, strconv.Itoa(m.index)).Set(float64(m.load.Value))
}

// FlowRemoved handles the removal of a rule by the switch.
func (r *Core) FlowRemoved(dpid uint64, w switchWriter, c network.Cookie) error {
	return r.releaseRule(dpid, w, c, false)
}

// FlowError handles a rule that the switch refused to install. The decision of the
// rule is discarded so that the next packet of the flow is handled as a new one.
func (r *Core) FlowError(dpid uint64, w switchWriter, c network.Cookie) error {
	return r.releaseRule(dpid, w, c, true)
}

func (r *Core) releaseRule(dpid uint64, w switchWriter, c network.Cookie, refused bool) error {
	why := "removed"
	if refused {
		why = "refused"
	}

	cmds := func() commands {
		r.mutex.Lock()
		defer r.mutex.Unlock()

		cmds := commands{}
		if !r.isCurrent(dpid, w) {
			return cmds
		}

		switch c.Kind() {
		case kindBalanceForward, kindBalanceReverse:
			b, ok := r.bindings.lookupCookie(c)
			if !ok || b.dpid != dpid {
				return cmds
			}
			if c == b.reverse.Cookie && !refused {
				// The binding lives as long as its forward rule.
				return cmds
			}
			r.bindings.remove(b)
			activeBindings.Set(float64(r.bindings.len()))
			r.removeSibling(&cmds, w, c, b.forward.Cookie, b.reverse.Cookie)
			logger.Infof("binding released (rule %v): flow=%v, server=%v", why, b.key, b.server.name)
		case kindAggregateForward, kindAggregateReverse:
			a, ok := r.assignments.lookupCookie(c)
			if !ok || a.dpid != dpid {
				return cmds
			}
			if c == a.reverse.Cookie && !refused {
				return cmds
			}
			r.assignments.remove(a)
			a.release()
			r.exportLoad(a.link, a.member)
			r.removeSibling(&cmds, w, c, a.forward.Cookie, a.reverse.Cookie)
			logger.Infof("assignment released (rule %v): flow=%v, link=%v, member=%v", why, a.key, a.link.name, a.member.index)
		}

		return cmds
	}()

	return cmds.run()
}

// removeSibling removes the other rule of the pair that c belongs to.
func (r *Core) removeSibling(cmds *commands, w switchWriter, c, forward, reverse network.Cookie) {
	sibling := forward
	if c == forward {
		sibling = reverse
	}
	cmds.add(func() error { return w.RemoveFlow(sibling) })
}

// PortStats reconciles the load counters of the aggregation members with the bytes
// carried by their client side ports since the previous statistics.
func (r *Core) PortStats(dpid uint64, w switchWriter, stats []network.PortStats) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isCurrent(dpid, w) {
		return
	}
	for _, v := range stats {
		ref, ok := r.registry.member(PortID{DPID: dpid, Port: v.Port})
		if !ok || ref.member.client.DPID != dpid {
			continue
		}
		m := ref.member

		bytes := v.TxBytes + v.RxBytes
		if !m.sampled {
			m.lastBytes, m.sampled = bytes, true
			continue
		}
		delta := bytes
		// Counters can be reset by the switch.
		if bytes >= m.lastBytes {
			delta = bytes - m.lastBytes
		}
		m.lastBytes = bytes
		m.load.reconcile(delta)
		r.exportLoad(ref.link, m)
		logger.Debugf("load of member %v of aggregated link %v is reconciled: %v bytes", m.index, ref.link.name, delta)
	}
}

// Status is a snapshot of the QoS state.
type Status struct {
	VirtualIP   netip.Addr    `json:"virtual_ip"`
	VirtualMAC  string        `json:"virtual_mac"`
	Servers     []ServerState `json:"servers"`
	Links       []LinkState   `json:"aggregated_links"`
	Bindings    int           `json:"bindings"`
	Assignments int           `json:"assignments"`
}

func (r *Core) Status() Status {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	v := Status{
		VirtualIP:   r.registry.vip,
		VirtualMAC:  r.registry.vmac.String(),
		Servers:     make([]ServerState, 0, len(r.registry.servers)),
		Links:       make([]LinkState, 0, len(r.registry.links)),
		Bindings:    r.bindings.len(),
		Assignments: r.assignments.len(),
	}
	for _, s := range r.registry.servers {
		v.Servers = append(v.Servers, s.state())
	}
	for _, l := range r.registry.links {
		v.Links = append(v.Links, l.state())
	}

	return v
}

// BindingInfo is a read-only view of a live server binding.
type BindingInfo struct {
	Flow    string    `json:"flow"`
	Server  string    `json:"server"`
	DPID    uint64    `json:"dpid"`
	InPort  uint32    `json:"in_port"`
	Created time.Time `json:"created"`
}

func (r *Core) Bindings() []BindingInfo {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	v := make([]BindingInfo, 0, r.bindings.len())
	for _, b := range r.bindings.all() {
		v = append(v, BindingInfo{
			Flow:    b.key.String(),
			Server:  b.server.name,
			DPID:    b.dpid,
			InPort:  b.inPort,
			Created: b.created,
		})
	}

	return v
}

// binding returns the server bound to the connection.
func (r *Core) binding(key network.FlowKey) (string, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	b, ok := r.bindings.lookup(key)
	if !ok {
		return "", false
	}
	return b.server.name, true
}
