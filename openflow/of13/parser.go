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

// ParseMessage decodes an OpenFlow 1.3 message that is sent from a switch.
func ParseMessage(data []byte) (openflow.Incoming, error) {
	if len(data) < 8 {
		return nil, openflow.ErrInvalidPacketLength
	}
	if data[0] != openflow.OF13_VERSION {
		return nil, openflow.ErrUnsupportedVersion
	}

	var msg openflow.Incoming
	switch data[1] {
	case OFPT_HELLO:
		msg = new(Hello)
	case OFPT_ERROR:
		msg = new(Error)
	case OFPT_ECHO_REQUEST:
		msg = new(EchoRequest)
	case OFPT_ECHO_REPLY:
		msg = new(EchoReply)
	case OFPT_FEATURES_REPLY:
		msg = new(FeaturesReply)
	case OFPT_BARRIER_REPLY:
		msg = new(BarrierReply)
	case OFPT_PACKET_IN:
		msg = new(PacketIn)
	case OFPT_FLOW_REMOVED:
		msg = new(FlowRemoved)
	case OFPT_PORT_STATUS:
		msg = new(PortStatus)
	case OFPT_MULTIPART_REPLY:
		if len(data) < 10 {
			return nil, openflow.ErrInvalidPacketLength
		}
		switch binary.BigEndian.Uint16(data[8:10]) {
		case OFPMP_PORT_DESC:
			msg = new(PortDescReply)
		case OFPMP_PORT_STATS:
			msg = new(PortStatsReply)
		default:
			return nil, openflow.ErrUnsupportedMessage
		}
	default:
		return nil, openflow.ErrUnsupportedMessage
	}

	if err := msg.UnmarshalBinary(data); err != nil {
		return nil, err
	}

	return msg, nil
}
