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

func newMultipartRequest(xid uint32, t uint16, body []byte) openflow.Message {
	msg := openflow.NewMessage(openflow.OF13_VERSION, OFPT_MULTIPART_REQUEST, xid)
	v := make([]byte, 8)
	binary.BigEndian.PutUint16(v[0:2], t)
	// v[2:4] is flags and v[4:8] is padding
	msg.SetPayload(append(v, body...))

	return msg
}

// multipartBody returns the body of a multipart reply message after validating its type.
func multipartBody(msg *openflow.Message, t uint16) ([]byte, error) {
	payload := msg.Payload()
	if len(payload) < 8 {
		return nil, openflow.ErrInvalidPacketLength
	}
	if binary.BigEndian.Uint16(payload[0:2]) != t {
		return nil, openflow.ErrUnsupportedMessage
	}

	return payload[8:], nil
}

type PortDescRequest struct {
	openflow.Message
}

func NewPortDescRequest(xid uint32) *PortDescRequest {
	return &PortDescRequest{
		Message: newMultipartRequest(xid, OFPMP_PORT_DESC, nil),
	}
}

type PortDescReply struct {
	openflow.Message
	Ports []*Port
}

func (r *PortDescReply) UnmarshalBinary(data []byte) error {
	if err := r.Message.UnmarshalBinary(data); err != nil {
		return err
	}

	body, err := multipartBody(&r.Message, OFPMP_PORT_DESC)
	if err != nil {
		return err
	}
	if len(body)%64 != 0 {
		return openflow.ErrInvalidPacketLength
	}

	r.Ports = make([]*Port, 0, len(body)/64)
	for i := 0; i < len(body); i += 64 {
		p := new(Port)
		if err := p.UnmarshalBinary(body[i : i+64]); err != nil {
			return err
		}
		r.Ports = append(r.Ports, p)
	}

	return nil
}

type PortStatsRequest struct {
	openflow.Message
}

// NewPortStatsRequest queries the statistics of port. OFPP_ANY means all the ports.
func NewPortStatsRequest(xid uint32, port uint32) *PortStatsRequest {
	body := make([]byte, 8)
	binary.BigEndian.PutUint32(body[0:4], port)

	return &PortStatsRequest{
		Message: newMultipartRequest(xid, OFPMP_PORT_STATS, body),
	}
}

// PortStats is ofp_port_stats.
type PortStats struct {
	PortNumber      uint32
	RxPackets       uint64
	TxPackets       uint64
	RxBytes         uint64
	TxBytes         uint64
	RxDropped       uint64
	TxDropped       uint64
	RxErrors        uint64
	TxErrors        uint64
	DurationSec     uint32
	DurationNanoSec uint32
}

type PortStatsReply struct {
	openflow.Message
	Stats []PortStats
}

func (r *PortStatsReply) UnmarshalBinary(data []byte) error {
	if err := r.Message.UnmarshalBinary(data); err != nil {
		return err
	}

	body, err := multipartBody(&r.Message, OFPMP_PORT_STATS)
	if err != nil {
		return err
	}
	if len(body)%112 != 0 {
		return openflow.ErrInvalidPacketLength
	}

	r.Stats = make([]PortStats, 0, len(body)/112)
	for i := 0; i < len(body); i += 112 {
		v := body[i : i+112]
		r.Stats = append(r.Stats, PortStats{
			PortNumber: binary.BigEndian.Uint32(v[0:4]),
			// v[4:8] is padding
			RxPackets: binary.BigEndian.Uint64(v[8:16]),
			TxPackets: binary.BigEndian.Uint64(v[16:24]),
			RxBytes:   binary.BigEndian.Uint64(v[24:32]),
			TxBytes:   binary.BigEndian.Uint64(v[32:40]),
			RxDropped: binary.BigEndian.Uint64(v[40:48]),
			TxDropped: binary.BigEndian.Uint64(v[48:56]),
			RxErrors:  binary.BigEndian.Uint64(v[56:64]),
			TxErrors:  binary.BigEndian.Uint64(v[64:72]),
			// Frame, overrun, CRC errors and collisions are not used.
			DurationSec:     binary.BigEndian.Uint32(v[104:108]),
			DurationNanoSec: binary.BigEndian.Uint32(v[108:112]),
		})
	}

	return nil
}
