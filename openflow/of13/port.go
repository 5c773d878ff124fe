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
	"net"
	"strings"

	"github.com/superkkt/quince/openflow"
)

// Port is ofp_port.
type Port struct {
	number uint32
	mac    net.HardwareAddr
	name   string
	// Bitmap of OFPPC_* flags
	config uint32
	// Bitmap of OFPPS_* flags
	state uint32
	// Current port bitrate in kbps
	currentSpeed uint32
	maxSpeed     uint32
}

func (r *Port) Number() uint32 {
	return r.number
}

func (r *Port) MAC() net.HardwareAddr {
	return r.mac
}

func (r *Port) Name() string {
	return r.name
}

// IsPortDown returns whether the port is administratively down.
func (r *Port) IsPortDown() bool {
	return r.config&OFPPC_PORT_DOWN != 0
}

// IsLinkDown returns whether a physical link on the port is down.
func (r *Port) IsLinkDown() bool {
	return r.state&OFPPS_LINK_DOWN != 0
}

// Speed returns current link speed in kbps.
func (r *Port) Speed() uint32 {
	return r.currentSpeed
}

func (r *Port) UnmarshalBinary(data []byte) error {
	if len(data) < 64 {
		return openflow.ErrInvalidPacketLength
	}

	r.number = binary.BigEndian.Uint32(data[0:4])
	r.mac = make(net.HardwareAddr, 6)
	copy(r.mac, data[8:14])
	r.name = strings.TrimRight(string(data[16:32]), "\x00")
	r.config = binary.BigEndian.Uint32(data[32:36])
	r.state = binary.BigEndian.Uint32(data[36:40])
	r.currentSpeed = binary.BigEndian.Uint32(data[56:60])
	r.maxSpeed = binary.BigEndian.Uint32(data[60:64])

	return nil
}

type PortStatus struct {
	openflow.Message
	Reason uint8
	Port   *Port
}

func (r *PortStatus) UnmarshalBinary(data []byte) error {
	if err := r.Message.UnmarshalBinary(data); err != nil {
		return err
	}

	payload := r.Payload()
	if len(payload) < 72 {
		return openflow.ErrInvalidPacketLength
	}
	r.Reason = payload[0]
	// payload[1:8] is padding
	r.Port = new(Port)
	if err := r.Port.UnmarshalBinary(payload[8:]); err != nil {
		return err
	}

	return nil
}
