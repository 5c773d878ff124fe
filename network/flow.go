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
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/superkkt/quince/openflow"
	"github.com/superkkt/quince/openflow/of13"
)

// Cookie identifies a flow rule installed by us. The MSB marks the table-miss
// entry, the next 7 bits hold the kind of the rule chosen by its owner, and the
// remaining 56 bits are a sequence number.
type Cookie uint64

const (
	TableMissCookie Cookie = 0x1 << 63

	cookieKindShift = 56
	cookieSeqMask   = 0x1<<cookieKindShift - 1
)

var cookieSeq uint64

// NewCookie returns a unique cookie of the kind. kind should be less than 128.
func NewCookie(kind uint8) Cookie {
	seq := atomic.AddUint64(&cookieSeq, 1) & cookieSeqMask
	return Cookie(uint64(kind&0x7F)<<cookieKindShift | seq)
}

func (r Cookie) Kind() uint8 {
	return uint8(uint64(r)>>cookieKindShift) & 0x7F
}

func (r Cookie) Sequence() uint64 {
	return uint64(r) & cookieSeqMask
}

func (r Cookie) IsTableMiss() bool {
	return r&TableMissCookie != 0
}

func (r Cookie) String() string {
	return fmt.Sprintf("0x%016x", uint64(r))
}

// FlowKey identifies a unidirectional IPv4 flow. Zero values of the fields
// are wildcards when the key is used as a flow match.
type FlowKey struct {
	SrcIP    netip.Addr
	DstIP    netip.Addr
	Protocol uint8
	SrcPort  uint16
	DstPort  uint16
}

// Reverse returns the key of the returning flow.
func (r FlowKey) Reverse() FlowKey {
	return FlowKey{
		SrcIP:    r.DstIP,
		DstIP:    r.SrcIP,
		Protocol: r.Protocol,
		SrcPort:  r.DstPort,
		DstPort:  r.SrcPort,
	}
}

func (r FlowKey) String() string {
	return fmt.Sprintf("%v:%v->%v:%v/%v", r.SrcIP, r.SrcPort, r.DstIP, r.DstPort, r.Protocol)
}

// FlowMatch describes the packets a flow rule applies to. Zero values are wildcards.
type FlowMatch struct {
	InPort uint32
	DstMAC net.HardwareAddr
	Key    FlowKey
}

func (r FlowMatch) String() string {
	return fmt.Sprintf("in_port=%v,eth_dst=%v,%v", r.InPort, r.DstMAC, r.Key)
}

func hostPrefix(ip netip.Addr) *net.IPNet {
	return &net.IPNet{
		IP:   net.IP(ip.AsSlice()),
		Mask: net.CIDRMask(ip.BitLen(), ip.BitLen()),
	}
}

func (r FlowMatch) toOpenFlow() (*of13.Match, error) {
	match := of13.NewMatch()
	if r.InPort != 0 {
		match.SetInPort(r.InPort)
	}
	if r.DstMAC != nil {
		match.SetDstMAC(r.DstMAC)
	}

	k := r.Key
	if k.SrcIP.IsValid() || k.DstIP.IsValid() || k.Protocol != 0 {
		match.SetEtherType(0x0800) // IPv4
	}
	if k.Protocol != 0 {
		match.SetIPProtocol(k.Protocol)
	}
	if k.SrcIP.IsValid() {
		match.SetSrcIP(hostPrefix(k.SrcIP))
	}
	if k.DstIP.IsValid() {
		match.SetDstIP(hostPrefix(k.DstIP))
	}
	if k.SrcPort != 0 {
		match.SetSrcPort(k.SrcPort)
	}
	if k.DstPort != 0 {
		match.SetDstPort(k.DstPort)
	}
	if err := match.Error(); err != nil {
		return nil, err
	}

	return match, nil
}

// FlowAction rewrites the packet headers and then outputs it to Output.
// Nil or zero values mean no rewrite.
type FlowAction struct {
	SrcMAC net.HardwareAddr
	DstMAC net.HardwareAddr
	SrcIP  netip.Addr
	DstIP  netip.Addr
	Output uint32
}

func (r FlowAction) String() string {
	v := ""
	if r.SrcMAC != nil {
		v += fmt.Sprintf("set_eth_src=%v,", r.SrcMAC)
	}
	if r.DstMAC != nil {
		v += fmt.Sprintf("set_eth_dst=%v,", r.DstMAC)
	}
	if r.SrcIP.IsValid() {
		v += fmt.Sprintf("set_ipv4_src=%v,", r.SrcIP)
	}
	if r.DstIP.IsValid() {
		v += fmt.Sprintf("set_ipv4_dst=%v,", r.DstIP)
	}

	return v + fmt.Sprintf("output=%v", r.Output)
}

func (r FlowAction) toOpenFlow() (*of13.Action, error) {
	action := of13.NewAction()
	if r.SrcMAC != nil {
		action.SetSrcMAC(r.SrcMAC)
	}
	if r.DstMAC != nil {
		action.SetDstMAC(r.DstMAC)
	}
	if r.SrcIP.IsValid() {
		action.SetSrcIP(net.IP(r.SrcIP.AsSlice()))
	}
	if r.DstIP.IsValid() {
		action.SetDstIP(net.IP(r.DstIP.AsSlice()))
	}
	port := openflow.NewOutPort()
	port.SetValue(r.Output)
	action.SetOutPort(port)
	if err := action.Error(); err != nil {
		return nil, err
	}

	return action, nil
}

type FlowRule struct {
	Cookie      Cookie
	Match       FlowMatch
	Action      FlowAction
	Priority    uint16
	IdleTimeout uint16
	HardTimeout uint16
	// Installed is the time when the FLOW_MOD was sent.
	Installed time.Time
	// Confirmed becomes true when the switch replies to the barrier sent after the FLOW_MOD.
	Confirmed bool
}

func (r FlowRule) String() string {
	return fmt.Sprintf("cookie=%v,priority=%v,idle=%v,hard=%v,match=[%v],action=[%v]", r.Cookie, r.Priority, r.IdleTimeout, r.HardTimeout, r.Match, r.Action)
}

type RemovedReason uint8

const (
	RemovedByIdleTimeout RemovedReason = of13.OFPRR_IDLE_TIMEOUT
	RemovedByHardTimeout RemovedReason = of13.OFPRR_HARD_TIMEOUT
	RemovedByDelete      RemovedReason = of13.OFPRR_DELETE
)

func (r RemovedReason) String() string {
	switch r {
	case RemovedByIdleTimeout:
		return "idle timeout"
	case RemovedByHardTimeout:
		return "hard timeout"
	case RemovedByDelete:
		return "delete"
	default:
		return fmt.Sprintf("unknown(%v)", uint8(r))
	}
}

// FlowRemoved is the expiration notice of a flow rule.
type FlowRemoved struct {
	Cookie Cookie
	Reason RemovedReason
	// Rule is the removed rule in the flow table model. It is valid only if Known is true.
	Rule        FlowRule
	Known       bool
	Duration    time.Duration
	PacketCount uint64
	ByteCount   uint64
}

type PortStats struct {
	Port      uint32
	RxPackets uint64
	TxPackets uint64
	RxBytes   uint64
	TxBytes   uint64
	Duration  time.Duration
}
