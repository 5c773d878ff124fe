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
	"github.com/superkkt/quince/openflow"
)

type echo struct {
	openflow.Message
	data []byte
}

func (r *echo) Data() []byte {
	return r.data
}

func (r *echo) SetData(data []byte) {
	r.data = data
}

func (r *echo) MarshalBinary() ([]byte, error) {
	r.SetPayload(r.data)
	return r.Message.MarshalBinary()
}

func (r *echo) UnmarshalBinary(data []byte) error {
	if err := r.Message.UnmarshalBinary(data); err != nil {
		return err
	}
	r.data = r.Payload()

	return nil
}

type EchoRequest struct {
	echo
}

func NewEchoRequest(xid uint32) *EchoRequest {
	return &EchoRequest{
		echo{Message: openflow.NewMessage(openflow.OF13_VERSION, OFPT_ECHO_REQUEST, xid)},
	}
}

type EchoReply struct {
	echo
}

func NewEchoReply(xid uint32) *EchoReply {
	return &EchoReply{
		echo{Message: openflow.NewMessage(openflow.OF13_VERSION, OFPT_ECHO_REPLY, xid)},
	}
}
