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

const (
	/* Immutable messages. */
	OFPT_HELLO        = iota /* Symmetric message */
	OFPT_ERROR               /* Symmetric message */
	OFPT_ECHO_REQUEST        /* Symmetric message */
	OFPT_ECHO_REPLY          /* Symmetric message */
	OFPT_EXPERIMENTER        /* Symmetric message */
	/* Switch configuration messages. */
	OFPT_FEATURES_REQUEST   /* Controller/switch message */
	OFPT_FEATURES_REPLY     /* Controller/switch message */
	OFPT_GET_CONFIG_REQUEST /* Controller/switch message */
	OFPT_GET_CONFIG_REPLY   /* Controller/switch message */
	OFPT_SET_CONFIG         /* Controller/switch message */
	/* Asynchronous messages. */
	OFPT_PACKET_IN    /* Async message */
	OFPT_FLOW_REMOVED /* Async message */
	OFPT_PORT_STATUS  /* Async message */
	/* Controller command messages. */
	OFPT_PACKET_OUT /* Controller/switch message */
	OFPT_FLOW_MOD   /* Controller/switch message */
	OFPT_GROUP_MOD  /* Controller/switch message */
	OFPT_PORT_MOD   /* Controller/switch message */
	OFPT_TABLE_MOD  /* Controller/switch message */
	/* Multipart messages. */
	OFPT_MULTIPART_REQUEST /* Controller/switch message */
	OFPT_MULTIPART_REPLY   /* Controller/switch message */
	/* Barrier messages. */
	OFPT_BARRIER_REQUEST /* Controller/switch message */
	OFPT_BARRIER_REPLY   /* Controller/switch message */
)

const (
	OFPC_FRAG_NORMAL = iota /* No special handling for fragments. */
	OFPC_FRAG_DROP          /* Drop fragments. */
	OFPC_FRAG_REASM         /* Reassemble (only if OFPC_IP_REASM set). */
	OFPC_FRAG_MASK
)

const (
	/* Port statistics.
	 * The request body is struct ofp_port_stats_request.
	 * The reply body is an array of struct ofp_port_stats. */
	OFPMP_PORT_STATS = 4
	/* Port description.
	 * The request body is empty.
	 * The reply body is an array of struct ofp_port. */
	OFPMP_PORT_DESC = 13
)

const (
	OFPP_MAX        = 0xffffff00 /* Maximum number of physical and logical switch ports. */
	OFPP_IN_PORT    = 0xfffffff8 /* Send the packet out the input port. */
	OFPP_TABLE      = 0xfffffff9 /* Submit the packet to the first flow table. */
	OFPP_NORMAL     = 0xfffffffa /* Forward using non-OpenFlow pipeline. */
	OFPP_FLOOD      = 0xfffffffb /* Flood using non-OpenFlow pipeline. */
	OFPP_ALL        = 0xfffffffc /* All standard ports except input port. */
	OFPP_CONTROLLER = 0xfffffffd /* Send to controller. */
	OFPP_LOCAL      = 0xfffffffe /* Local openflow "port". */
	OFPP_ANY        = 0xffffffff /* Special value used in some requests when no port is specified. */
)

const (
	OFPG_ANY = 0xffffffff
)

const (
	OFPTT_ALL = 0xff
)

const (
	OFP_NO_BUFFER         = 0xffffffff
	OFPCML_NO_BUFFER      = 0xffff
	OFPMT_OXM             = 1
	OFPXMC_OPENFLOW_BASIC = 0x8000
)

const (
	OFPFC_ADD           = iota /* New flow. */
	OFPFC_MODIFY               /* Modify all matching flows. */
	OFPFC_MODIFY_STRICT        /* Modify entry strictly matching wildcards and priority. */
	OFPFC_DELETE               /* Delete all matching flows. */
	OFPFC_DELETE_STRICT        /* Delete entry strictly matching wildcards and priority. */
)

const (
	OFPFF_SEND_FLOW_REM = 1 << 0 /* Send flow removed message when flow expires or is deleted. */
	OFPFF_CHECK_OVERLAP = 1 << 1 /* Check for overlapping entries first. */
)

const (
	OFPRR_IDLE_TIMEOUT = iota /* Flow idle time exceeded idle_timeout. */
	OFPRR_HARD_TIMEOUT        /* Time exceeded hard_timeout. */
	OFPRR_DELETE              /* Evicted by a DELETE flow mod. */
	OFPRR_GROUP_DELETE        /* Group was removed. */
)

const (
	OFPPR_ADD    = iota /* The port was added. */
	OFPPR_DELETE        /* The port was removed. */
	OFPPR_MODIFY        /* Some attribute of the port has changed. */
)

const (
	OFPPC_PORT_DOWN = 1 << 0 /* Port is administratively down. */
)

const (
	OFPPS_LINK_DOWN = 1 << 0 /* No physical link present. */
)

const (
	OFPIT_GOTO_TABLE     = 1 /* Setup the next table in the lookup pipeline */
	OFPIT_WRITE_METADATA = 2 /* Setup the metadata field for use later in pipeline */
	OFPIT_WRITE_ACTIONS  = 3 /* Write the action(s) onto the datapath action set */
	OFPIT_APPLY_ACTIONS  = 4 /* Applies the action(s) immediately */
	OFPIT_CLEAR_ACTIONS  = 5 /* Clears all actions from the datapath action set */
)

const (
	OFPAT_OUTPUT    = 0  /* Output to switch port. */
	OFPAT_SET_FIELD = 25 /* Set a header field using OXM TLV format. */
)

const (
	OFPXMT_OFB_IN_PORT  = 0  /* Switch input port. */
	OFPXMT_OFB_ETH_DST  = 3  /* Ethernet destination address. */
	OFPXMT_OFB_ETH_SRC  = 4  /* Ethernet source address. */
	OFPXMT_OFB_ETH_TYPE = 5  /* Ethernet frame type. */
	OFPXMT_OFB_IP_PROTO = 10 /* IP protocol. */
	OFPXMT_OFB_IPV4_SRC = 11 /* IPv4 source address. */
	OFPXMT_OFB_IPV4_DST = 12 /* IPv4 destination address. */
	OFPXMT_OFB_TCP_SRC  = 13 /* TCP source port. */
	OFPXMT_OFB_TCP_DST  = 14 /* TCP destination port. */
	OFPXMT_OFB_UDP_SRC  = 15 /* UDP source port. */
	OFPXMT_OFB_UDP_DST  = 16 /* UDP destination port. */
)

const (
	OFPET_HELLO_FAILED    = 0 /* Hello protocol failed. */
	OFPET_BAD_REQUEST     = 1 /* Request was not understood. */
	OFPET_BAD_ACTION      = 2 /* Error in action description. */
	OFPET_BAD_INSTRUCTION = 3 /* Error in instruction list. */
	OFPET_BAD_MATCH       = 4 /* Error in match. */
	OFPET_FLOW_MOD_FAILED = 5 /* Problem modifying flow entry. */
)

const (
	OFPFMFC_TABLE_FULL = 1 /* Flow not added because table was full. */
	OFPFMFC_OVERLAP    = 3 /* Attempted to add overlapping flow with CHECK_OVERLAP flag set. */
)
