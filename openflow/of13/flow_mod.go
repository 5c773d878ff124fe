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

package of13

import (
	"encoding/binary"

	"github.com/superkkt/quince/openflow"

	"github.com/pkg/errors"
)

type FlowMod struct {
	openflow.Message
	command     uint8
	cookie      uint64
	cookieMask  uint64
	tableID     uint8
	idleTimeout uint16
	hardTimeout uint16
	priority    uint16
	flags       uint16
	match       *Match
	instruction Instruction
	outPort     openflow.OutPort
}

func NewFlowMod(xid uint32, cmd uint8) *FlowMod {
	// Default out_port value is OFPP_NONE (OFPP_ANY)
	outPort := openflow.NewOutPort()
	outPort.SetNone()

	v := &FlowMod{
		Message: openflow.NewMessage(openflow.OF13_VERSION, OFPT_FLOW_MOD, xid),
		command: cmd,
		outPort: outPort,
	}
	// Every flow that we add reports its removal to us so that we can keep our flow table model in sync.
	if cmd == OFPFC_ADD {
		v.flags = OFPFF_SEND_FLOW_REM
	}

	return v
}

func (r *FlowMod) Command() uint8 {
	return r.command
}

func (r *FlowMod) Cookie() uint64 {
	return r.cookie
}

func (r *FlowMod) SetCookie(cookie uint64) {
	r.cookie = cookie
}

func (r *FlowMod) CookieMask() uint64 {
	return r.cookieMask
}

func (r *FlowMod) SetCookieMask(mask uint64) {
	r.cookieMask = mask
}

func (r *FlowMod) TableID() uint8 {
	return r.tableID
}

func (r *FlowMod) SetTableID(id uint8) {
	r.tableID = id
}

func (r *FlowMod) IdleTimeout() uint16 {
	return r.idleTimeout
}

func (r *FlowMod) SetIdleTimeout(timeout uint16) {
	r.idleTimeout = timeout
}

func (r *FlowMod) HardTimeout() uint16 {
	return r.hardTimeout
}

func (r *FlowMod) SetHardTimeout(timeout uint16) {
	r.hardTimeout = timeout
}

func (r *FlowMod) Priority() uint16 {
	return r.priority
}

func (r *FlowMod) SetPriority(priority uint16) {
	r.priority = priority
}

func (r *FlowMod) Flags() uint16 {
	return r.flags
}

func (r *FlowMod) FlowMatch() *Match {
	return r.match
}

func (r *FlowMod) SetFlowMatch(match *Match) {
	if match == nil {
		panic("flow match is nil")
	}
	r.match = match
}

func (r *FlowMod) FlowInstruction() Instruction {
	return r.instruction
}

func (r *FlowMod) SetFlowInstruction(inst Instruction) {
	if inst == nil {
		panic("flow instruction is nil")
	}
	r.instruction = inst
}

func (r *FlowMod) OutPort() openflow.OutPort {
	return r.outPort
}

func (r *FlowMod) SetOutPort(p openflow.OutPort) {
	r.outPort = p
}

func (r *FlowMod) MarshalBinary() ([]byte, error) {
	v := make([]byte, 40)
	binary.BigEndian.PutUint64(v[0:8], r.cookie)
	binary.BigEndian.PutUint64(v[8:16], r.cookieMask)
	v[16] = r.tableID
	v[17] = r.command
	binary.BigEndian.PutUint16(v[18:20], r.idleTimeout)
	binary.BigEndian.PutUint16(v[20:22], r.hardTimeout)
	binary.BigEndian.PutUint16(v[22:24], r.priority)
	binary.BigEndian.PutUint32(v[24:28], OFP_NO_BUFFER)
	if r.outPort.IsNone() {
		binary.BigEndian.PutUint32(v[28:32], OFPP_ANY)
	} else {
		binary.BigEndian.PutUint32(v[28:32], r.outPort.Value())
	}
	binary.BigEndian.PutUint32(v[32:36], OFPG_ANY)
	// XXX: EdgeCore AS4600-54T switch does not support OFPFF_CHECK_OVERLAP
	binary.BigEndian.PutUint16(v[36:38], r.flags)
	// v[38:40] is padding

	if r.match == nil {
		return nil, errors.New("empty flow match")
	}
	match, err := r.match.MarshalBinary()
	if err != nil {
		return nil, err
	}
	v = append(v, match...)
	if r.instruction != nil {
		ins, err := r.instruction.MarshalBinary()
		if err != nil {
			return nil, err
		}
		v = append(v, ins...)
	}

	r.SetPayload(v)
	return r.Message.MarshalBinary()
}
