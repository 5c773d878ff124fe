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
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/superkkt/quince/openflow"

	"github.com/pkg/errors"
)

// Match is an OXM flow match. Fields that are not set are wildcarded.
type Match struct {
	err   error
	mutex sync.Mutex
	m     map[uint]interface{}
}

// NewMatch returns a Match whose fields are all wildcarded
func NewMatch() *Match {
	return &Match{
		m: make(map[uint]interface{}),
	}
}

func (r *Match) Error() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.err
}

func (r *Match) SetInPort(port uint32) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.m[OFPXMT_OFB_IN_PORT] = port
}

func (r *Match) InPort() (wildcard bool, port uint32) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	v, ok := r.m[OFPXMT_OFB_IN_PORT]
	if !ok {
		return true, 0
	}

	return false, v.(uint32)
}

func (r *Match) SetEtherType(t uint16) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.m[OFPXMT_OFB_ETH_TYPE] = t
}

func (r *Match) EtherType() (wildcard bool, etherType uint16) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	v, ok := r.m[OFPXMT_OFB_ETH_TYPE]
	if !ok {
		return true, 0
	}

	return false, v.(uint16)
}

func (r *Match) SetSrcMAC(mac net.HardwareAddr) {
	r.setMAC(OFPXMT_OFB_ETH_SRC, mac)
}

func (r *Match) SrcMAC() (wildcard bool, mac net.HardwareAddr) {
	return r.mac(OFPXMT_OFB_ETH_SRC)
}

func (r *Match) SetDstMAC(mac net.HardwareAddr) {
	r.setMAC(OFPXMT_OFB_ETH_DST, mac)
}

func (r *Match) DstMAC() (wildcard bool, mac net.HardwareAddr) {
	return r.mac(OFPXMT_OFB_ETH_DST)
}

func (r *Match) setMAC(field uint, mac net.HardwareAddr) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if len(mac) != 6 {
		r.err = openflow.ErrInvalidMACAddress
		return
	}
	v := make(net.HardwareAddr, 6)
	copy(v, mac)
	r.m[field] = v
}

func (r *Match) mac(field uint) (wildcard bool, mac net.HardwareAddr) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	v, ok := r.m[field]
	if !ok {
		return true, nil
	}

	return false, v.(net.HardwareAddr)
}

func (r *Match) SetIPProtocol(p uint8) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	etherType, ok := r.m[OFPXMT_OFB_ETH_TYPE]
	if !ok {
		r.err = fmt.Errorf("SetIPProtocol: %v", openflow.ErrMissingEtherType)
		return
	}
	if etherType.(uint16) != 0x0800 {
		r.err = fmt.Errorf("SetIPProtocol: %v", openflow.ErrUnsupportedEtherType)
		return
	}
	r.m[OFPXMT_OFB_IP_PROTO] = p
}

func (r *Match) IPProtocol() (wildcard bool, protocol uint8) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	v, ok := r.m[OFPXMT_OFB_IP_PROTO]
	if !ok {
		return true, 0
	}

	return false, v.(uint8)
}

func (r *Match) SetSrcIP(ip *net.IPNet) {
	r.setIP(OFPXMT_OFB_IPV4_SRC, ip)
}

func (r *Match) SrcIP() (wildcard bool, ip *net.IPNet) {
	return r.ip(OFPXMT_OFB_IPV4_SRC)
}

func (r *Match) SetDstIP(ip *net.IPNet) {
	r.setIP(OFPXMT_OFB_IPV4_DST, ip)
}

func (r *Match) DstIP() (wildcard bool, ip *net.IPNet) {
	return r.ip(OFPXMT_OFB_IPV4_DST)
}

func (r *Match) setIP(field uint, ip *net.IPNet) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if ip == nil || ip.IP.To4() == nil {
		r.err = openflow.ErrInvalidIPAddress
		return
	}
	etherType, ok := r.m[OFPXMT_OFB_ETH_TYPE]
	if !ok {
		r.err = fmt.Errorf("setIP: %v", openflow.ErrMissingEtherType)
		return
	}
	if etherType.(uint16) != 0x0800 {
		r.err = fmt.Errorf("setIP: %v", openflow.ErrUnsupportedEtherType)
		return
	}

	mask := ip.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		mask = net.CIDRMask(32, 32)
	}
	r.m[field] = &net.IPNet{IP: ip.IP.To4(), Mask: mask}
}

func (r *Match) ip(field uint) (wildcard bool, ip *net.IPNet) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	v, ok := r.m[field]
	if !ok {
		return true, nil
	}

	return false, v.(*net.IPNet)
}

// SetSrcPort sets the transport source port. Ethernet type and IP protocol should be set before calling this function.
func (r *Match) SetSrcPort(p uint16) {
	r.setTransportPort(OFPXMT_OFB_TCP_SRC, OFPXMT_OFB_UDP_SRC, p)
}

func (r *Match) SrcPort() (wildcard bool, port uint16) {
	return r.transportPort(OFPXMT_OFB_TCP_SRC, OFPXMT_OFB_UDP_SRC)
}

// SetDstPort sets the transport destination port. Ethernet type and IP protocol should be set before calling this function.
func (r *Match) SetDstPort(p uint16) {
	r.setTransportPort(OFPXMT_OFB_TCP_DST, OFPXMT_OFB_UDP_DST, p)
}

func (r *Match) DstPort() (wildcard bool, port uint16) {
	return r.transportPort(OFPXMT_OFB_TCP_DST, OFPXMT_OFB_UDP_DST)
}

func (r *Match) setTransportPort(tcp, udp uint, p uint16) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	proto, ok := r.m[OFPXMT_OFB_IP_PROTO]
	if !ok {
		r.err = fmt.Errorf("setTransportPort: %v", openflow.ErrMissingIPProtocol)
		return
	}

	switch proto.(uint8) {
	// TCP
	case 0x06:
		r.m[tcp] = p
		delete(r.m, udp)
	// UDP
	case 0x11:
		r.m[udp] = p
		delete(r.m, tcp)
	default:
		r.err = fmt.Errorf("setTransportPort: %v", openflow.ErrUnsupportedIPProtocol)
	}
}

func (r *Match) transportPort(tcp, udp uint) (wildcard bool, port uint16) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if v, ok := r.m[tcp]; ok {
		return false, v.(uint16)
	}
	if v, ok := r.m[udp]; ok {
		return false, v.(uint16)
	}

	return true, 0
}

func oxmHeader(field uint8, hasmask bool, length uint8) uint32 {
	var mask uint32
	if hasmask {
		mask = 1
	}

	return OFPXMC_OPENFLOW_BASIC<<16 | uint32(field)<<9 | mask<<8 | uint32(length)
}

func marshalIPNetTLV(field uint8, ip *net.IPNet) []byte {
	ones, _ := ip.Mask.Size()
	if ones == 32 {
		data := make([]byte, 8)
		binary.BigEndian.PutUint32(data[0:4], oxmHeader(field, false, 4))
		copy(data[4:8], ip.IP.To4())
		return data
	}

	data := make([]byte, 12)
	binary.BigEndian.PutUint32(data[0:4], oxmHeader(field, true, 8))
	copy(data[4:8], ip.IP.To4().Mask(ip.Mask))
	copy(data[8:12], ip.Mask)
	return data
}

func marshalHardwareAddrTLV(field uint8, mac net.HardwareAddr) []byte {
	data := make([]byte, 10)
	binary.BigEndian.PutUint32(data[0:4], oxmHeader(field, false, 6))
	copy(data[4:], mac)
	return data
}

func marshalUint8TLV(field uint8, v uint8) []byte {
	data := make([]byte, 5)
	binary.BigEndian.PutUint32(data[0:4], oxmHeader(field, false, 1))
	data[4] = v
	return data
}

func marshalUint16TLV(field uint8, v uint16) []byte {
	data := make([]byte, 6)
	binary.BigEndian.PutUint32(data[0:4], oxmHeader(field, false, 2))
	binary.BigEndian.PutUint16(data[4:6], v)
	return data
}

func marshalUint32TLV(field uint8, v uint32) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:4], oxmHeader(field, false, 4))
	binary.BigEndian.PutUint32(data[4:8], v)
	return data
}

func marshalTLV(id uint, v interface{}) []byte {
	switch id {
	case OFPXMT_OFB_IN_PORT:
		return marshalUint32TLV(OFPXMT_OFB_IN_PORT, v.(uint32))
	case OFPXMT_OFB_ETH_DST, OFPXMT_OFB_ETH_SRC:
		return marshalHardwareAddrTLV(uint8(id), v.(net.HardwareAddr))
	case OFPXMT_OFB_ETH_TYPE:
		return marshalUint16TLV(OFPXMT_OFB_ETH_TYPE, v.(uint16))
	case OFPXMT_OFB_IP_PROTO:
		return marshalUint8TLV(OFPXMT_OFB_IP_PROTO, v.(uint8))
	case OFPXMT_OFB_IPV4_SRC, OFPXMT_OFB_IPV4_DST:
		return marshalIPNetTLV(uint8(id), v.(*net.IPNet))
	case OFPXMT_OFB_TCP_SRC, OFPXMT_OFB_TCP_DST, OFPXMT_OFB_UDP_SRC, OFPXMT_OFB_UDP_DST:
		return marshalUint16TLV(uint8(id), v.(uint16))
	default:
		panic(fmt.Sprintf("unexpected TLV type: %v", id))
	}
}

func (r *Match) MarshalBinary() ([]byte, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.err != nil {
		return nil, r.err
	}

	// OXM prerequisites require the lower-layer fields to come first, and
	// the field numbers already follow that order.
	keys := make([]uint, 0, len(r.m))
	for k := range r.m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], OFPMT_OXM)
	for _, k := range keys {
		data = append(data, marshalTLV(k, r.m[k])...)
	}
	// ofp_match.length does not include padding
	binary.BigEndian.PutUint16(data[2:4], uint16(len(data)))
	// Add padding to align as a multiple of 8
	rem := len(data) % 8
	if rem > 0 {
		data = append(data, bytes.Repeat([]byte{0}, 8-rem)...)
	}

	return data, nil
}

func (r *Match) unmarshalIPNetTLV(field uint8, hasmask bool, data []byte) error {
	length := 8
	if hasmask {
		length = 12
	}
	if len(data) < length {
		return openflow.ErrInvalidPacketLength
	}

	ip := net.IPv4(data[4], data[5], data[6], data[7]).To4()
	mask := net.CIDRMask(32, 32)
	if hasmask {
		mask = net.IPMask{data[8], data[9], data[10], data[11]}
	}
	r.m[uint(field)] = &net.IPNet{IP: ip, Mask: mask}

	return nil
}

func (r *Match) unmarshalTLV(data []byte) error {
	buf := data
	// TLV header length is 4 bytes
	for len(buf) >= 4 {
		header := binary.BigEndian.Uint32(buf[0:4])
		class := header >> 16 & 0xFFFF
		if class != OFPXMC_OPENFLOW_BASIC {
			return errors.New("unsupported TLV class")
		}
		field := uint8(header >> 9 & 0x7F)
		hasmask := header>>8&0x1 == 1
		length := int(header & 0xFF)

		if len(buf) < 4+length {
			return openflow.ErrInvalidPacketLength
		}
		value := buf[4 : 4+length]

		switch field {
		case OFPXMT_OFB_IN_PORT:
			if length != 4 {
				return openflow.ErrInvalidPacketLength
			}
			r.m[uint(field)] = binary.BigEndian.Uint32(value)
		case OFPXMT_OFB_ETH_DST, OFPXMT_OFB_ETH_SRC:
			if length < 6 {
				return openflow.ErrInvalidPacketLength
			}
			mac := make(net.HardwareAddr, 6)
			copy(mac, value[0:6])
			r.m[uint(field)] = mac
		case OFPXMT_OFB_ETH_TYPE, OFPXMT_OFB_TCP_SRC, OFPXMT_OFB_TCP_DST, OFPXMT_OFB_UDP_SRC, OFPXMT_OFB_UDP_DST:
			if length != 2 {
				return openflow.ErrInvalidPacketLength
			}
			r.m[uint(field)] = binary.BigEndian.Uint16(value)
		case OFPXMT_OFB_IP_PROTO:
			if length != 1 {
				return openflow.ErrInvalidPacketLength
			}
			r.m[uint(field)] = value[0]
		case OFPXMT_OFB_IPV4_SRC, OFPXMT_OFB_IPV4_DST:
			if err := r.unmarshalIPNetTLV(field, hasmask, buf); err != nil {
				return err
			}
		default:
			// Do nothing
		}

		buf = buf[4+length:]
	}

	return nil
}

func (r *Match) UnmarshalBinary(data []byte) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if len(data) < 4 {
		return openflow.ErrInvalidPacketLength
	}
	if binary.BigEndian.Uint16(data[0:2]) != OFPMT_OXM {
		return openflow.ErrUnsupportedMatchType
	}
	length := binary.BigEndian.Uint16(data[2:4])
	if length < 4 || len(data) < int(length) {
		return openflow.ErrInvalidPacketLength
	}

	return r.unmarshalTLV(data[4:length])
}

// matchLength returns the length of an encoded ofp_match including its padding.
func matchLength(data []byte) (int, error) {
	if len(data) < 4 {
		return 0, openflow.ErrInvalidPacketLength
	}
	length := int(binary.BigEndian.Uint16(data[2:4]))
	if rem := length % 8; rem > 0 {
		length += 8 - rem
	}
	if len(data) < length {
		return 0, openflow.ErrInvalidPacketLength
	}

	return length, nil
}
