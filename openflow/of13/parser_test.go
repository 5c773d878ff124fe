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
	"encoding/hex"
	"testing"

	"github.com/superkkt/quince/openflow"

	"github.com/google/go-cmp/cmp"
)

func TestParsePacketIn(t *testing.T) {
	packet := "040a002e00000001" + // header
		"ffffffff" + "0004" + "00" + "00" + // buffer, total length, reason, table
		"8000000000000000" + // cookie
		"0001000c800000040000000300000000" + // match (in_port=3)
		"0000" + // padding
		"deadbeef" // data
	data, err := hex.DecodeString(packet)
	if err != nil {
		t.Fatal(err)
	}

	msg, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in, ok := msg.(*PacketIn)
	if !ok {
		t.Fatalf("unexpected message type: %T", msg)
	}
	if in.InPort != 3 {
		t.Fatalf("unexpected in_port: %v", in.InPort)
	}
	if in.Cookie != 1<<63 {
		t.Fatalf("unexpected cookie: %x", in.Cookie)
	}
	if hex.EncodeToString(in.Data) != "deadbeef" {
		t.Fatalf("unexpected data: %x", in.Data)
	}
}

func TestParsePortStatsReply(t *testing.T) {
	body := make([]byte, 8+112)
	binary.BigEndian.PutUint16(body[0:2], OFPMP_PORT_STATS)
	stats := body[8:]
	binary.BigEndian.PutUint32(stats[0:4], 2)
	binary.BigEndian.PutUint64(stats[8:16], 1)
	binary.BigEndian.PutUint64(stats[16:24], 2)
	binary.BigEndian.PutUint64(stats[24:32], 1000)
	binary.BigEndian.PutUint64(stats[32:40], 2000)
	binary.BigEndian.PutUint32(stats[104:108], 5)

	msg := openflow.NewMessage(openflow.OF13_VERSION, OFPT_MULTIPART_REPLY, 9)
	msg.SetPayload(body)
	data, err := msg.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	v, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reply, ok := v.(*PortStatsReply)
	if !ok {
		t.Fatalf("unexpected message type: %T", v)
	}
	expected := []PortStats{
		{PortNumber: 2, RxPackets: 1, TxPackets: 2, RxBytes: 1000, TxBytes: 2000, DurationSec: 5},
	}
	if diff := cmp.Diff(expected, reply.Stats); diff != "" {
		t.Fatalf("unexpected port stats (-expected +got):\n%v", diff)
	}
	if reply.TransactionID() != 9 {
		t.Fatalf("unexpected transaction ID: %v", reply.TransactionID())
	}
}

func TestParseFlowRemoved(t *testing.T) {
	body := make([]byte, 40)
	binary.BigEndian.PutUint64(body[0:8], 0x0200000000000005)
	binary.BigEndian.PutUint16(body[8:10], 200)
	body[10] = OFPRR_IDLE_TIMEOUT
	binary.BigEndian.PutUint64(body[32:40], 4096)
	// Empty OXM match with padding.
	body = append(body, 0x00, 0x01, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00)

	msg := openflow.NewMessage(openflow.OF13_VERSION, OFPT_FLOW_REMOVED, 0)
	msg.SetPayload(body)
	data, _ := msg.MarshalBinary()

	v, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	removed := v.(*FlowRemoved)
	if removed.Cookie != 0x0200000000000005 || removed.Reason != OFPRR_IDLE_TIMEOUT || removed.ByteCount != 4096 {
		t.Fatalf("unexpected flow removed: cookie=%x, reason=%v, bytes=%v", removed.Cookie, removed.Reason, removed.ByteCount)
	}
}

func TestParseMalformed(t *testing.T) {
	samples := []string{
		"04",               // Too short
		"040a0040000000",   // Truncated header
		"040a000800000001", // PACKET_IN without body
		"010000080000000a", // OpenFlow 1.0 HELLO
	}
	for _, v := range samples {
		data, _ := hex.DecodeString(v)
		if _, err := ParseMessage(data); err == nil {
			t.Fatalf("expected an error for %v", v)
		}
	}
}
