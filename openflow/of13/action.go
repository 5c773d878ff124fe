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
	"bytes"
	"encoding/binary"
	"net"

	"github.com/superkkt/quince/openflow"

	"github.com/pkg/errors"
)

// Action is an ordered action list: set-field actions first, then the output actions.
type Action struct {
	err     error
	srcMAC  net.HardwareAddr
	dstMAC  net.HardwareAddr
	srcIP   net.IP
	dstIP   net.IP
	outputs []openflow.OutPort
}

func NewAction() *Action {
	return &Action{}
}

func (r *Action) Error() error {
	return r.err
}

func (r *Action) SetSrcMAC(mac net.HardwareAddr) {
	if len(mac) != 6 {
		r.err = openflow.ErrInvalidMACAddress
		return
	}
	r.srcMAC = mac
}

func (r *Action) SrcMAC() (ok bool, mac net.HardwareAddr) {
	return r.srcMAC != nil, r.srcMAC
}

func (r *Action) SetDstMAC(mac net.HardwareAddr) {
	if len(mac) != 6 {
		r.err = openflow.ErrInvalidMACAddress
		return
	}
	r.dstMAC = mac
}

func (r *Action) DstMAC() (ok bool, mac net.HardwareAddr) {
	return r.dstMAC != nil, r.dstMAC
}

func (r *Action) SetSrcIP(ip net.IP) {
	if ip.To4() == nil {
		r.err = openflow.ErrInvalidIPAddress
		return
	}
	r.srcIP = ip.To4()
}

func (r *Action) SrcIP() (ok bool, ip net.IP) {
	return r.srcIP != nil, r.srcIP
}

func (r *Action) SetDstIP(ip net.IP) {
	if ip.To4() == nil {
		r.err = openflow.ErrInvalidIPAddress
		return
	}
	r.dstIP = ip.To4()
}

func (r *Action) DstIP() (ok bool, ip net.IP) {
	return r.dstIP != nil, r.dstIP
}

// SetOutPort replaces all the output ports with p.
func (r *Action) SetOutPort(p openflow.OutPort) {
	r.outputs = []openflow.OutPort{p}
}

func (r *Action) AddOutPort(p openflow.OutPort) {
	r.outputs = append(r.outputs, p)
}

func (r *Action) OutPorts() []openflow.OutPort {
	return r.outputs
}

func marshalOutput(p openflow.OutPort) []byte {
	v := make([]byte, 16)
	binary.BigEndian.PutUint16(v[0:2], uint16(OFPAT_OUTPUT))
	binary.BigEndian.PutUint16(v[2:4], 16)

	var port uint32
	switch {
	case p.IsTable():
		port = OFPP_TABLE
	case p.IsFlood():
		port = OFPP_FLOOD
	case p.IsAll():
		port = OFPP_ALL
	case p.IsController():
		port = OFPP_CONTROLLER
	case p.IsNone():
		port = OFPP_ANY
	default:
		port = p.Value()
	}
	binary.BigEndian.PutUint32(v[4:8], port)
	// We don't support buffer ID and partial PACKET_IN
	binary.BigEndian.PutUint16(v[8:10], OFPCML_NO_BUFFER)

	return v
}

func marshalSetField(tlv []byte) []byte {
	v := make([]byte, 4+len(tlv))
	binary.BigEndian.PutUint16(v[0:2], OFPAT_SET_FIELD)
	copy(v[4:], tlv)
	// Add padding to align as a multiple of 8
	rem := len(v) % 8
	if rem > 0 {
		v = append(v, bytes.Repeat([]byte{0}, 8-rem)...)
	}
	binary.BigEndian.PutUint16(v[2:4], uint16(len(v)))

	return v
}

func (r *Action) MarshalBinary() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}

	result := make([]byte, 0)
	if r.srcMAC != nil {
		result = append(result, marshalSetField(marshalHardwareAddrTLV(OFPXMT_OFB_ETH_SRC, r.srcMAC))...)
	}
	if r.dstMAC != nil {
		result = append(result, marshalSetField(marshalHardwareAddrTLV(OFPXMT_OFB_ETH_DST, r.dstMAC))...)
	}
	if r.srcIP != nil {
		ip := &net.IPNet{IP: r.srcIP, Mask: net.CIDRMask(32, 32)}
		result = append(result, marshalSetField(marshalIPNetTLV(OFPXMT_OFB_IPV4_SRC, ip))...)
	}
	if r.dstIP != nil {
		ip := &net.IPNet{IP: r.dstIP, Mask: net.CIDRMask(32, 32)}
		result = append(result, marshalSetField(marshalIPNetTLV(OFPXMT_OFB_IPV4_DST, ip))...)
	}
	for _, p := range r.outputs {
		result = append(result, marshalOutput(p)...)
	}

	return result, nil
}

func (r *Action) UnmarshalBinary(data []byte) error {
	buf := data
	for len(buf) >= 4 {
		t := binary.BigEndian.Uint16(buf[0:2])
		length := binary.BigEndian.Uint16(buf[2:4])
		if length < 8 || len(buf) < int(length) {
			return openflow.ErrInvalidPacketLength
		}

		switch t {
		case OFPAT_OUTPUT:
			outPort := openflow.NewOutPort()
			switch port := binary.BigEndian.Uint32(buf[4:8]); port {
			case OFPP_TABLE:
				outPort.SetTable()
			case OFPP_FLOOD:
				outPort.SetFlood()
			case OFPP_ALL:
				outPort.SetAll()
			case OFPP_CONTROLLER:
				outPort.SetController()
			case OFPP_ANY:
				outPort.SetNone()
			default:
				outPort.SetValue(port)
			}
			r.AddOutPort(outPort)
		case OFPAT_SET_FIELD:
			header := binary.BigEndian.Uint32(buf[4:8])
			if header>>16&0xFFFF != OFPXMC_OPENFLOW_BASIC {
				return errors.New("unsupported TLV class")
			}
			if err := r.unmarshalSetField(uint8(header>>9&0x7F), buf[8:length]); err != nil {
				return err
			}
		default:
			// Do nothing
		}

		buf = buf[length:]
	}

	return r.err
}

func (r *Action) unmarshalSetField(field uint8, value []byte) error {
	switch field {
	case OFPXMT_OFB_ETH_SRC, OFPXMT_OFB_ETH_DST:
		if len(value) < 6 {
			return openflow.ErrInvalidPacketLength
		}
		mac := make(net.HardwareAddr, 6)
		copy(mac, value[0:6])
		if field == OFPXMT_OFB_ETH_SRC {
			r.SetSrcMAC(mac)
		} else {
			r.SetDstMAC(mac)
		}
	case OFPXMT_OFB_IPV4_SRC, OFPXMT_OFB_IPV4_DST:
		if len(value) < 4 {
			return openflow.ErrInvalidPacketLength
		}
		ip := net.IPv4(value[0], value[1], value[2], value[3])
		if field == OFPXMT_OFB_IPV4_SRC {
			r.SetSrcIP(ip)
		} else {
			r.SetDstIP(ip)
		}
	default:
		// Do nothing
	}

	return nil
}
