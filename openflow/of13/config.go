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
)

type SetConfig struct {
	openflow.Message
	flags          uint16
	missSendLength uint16
}

func NewSetConfig(xid uint32) *SetConfig {
	return &SetConfig{
		Message: openflow.NewMessage(openflow.OF13_VERSION, OFPT_SET_CONFIG, xid),
	}
}

func (r *SetConfig) SetFlags(flags uint16) {
	r.flags = flags
}

func (r *SetConfig) SetMissSendLength(length uint16) {
	r.missSendLength = length
}

func (r *SetConfig) MarshalBinary() ([]byte, error) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint16(v[0:2], r.flags)
	binary.BigEndian.PutUint16(v[2:4], r.missSendLength)
	r.SetPayload(v)

	return r.Message.MarshalBinary()
}
