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

package qos

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	policyLoadBalancing   = "load_balancing"
	policyLinkAggregation = "link_aggregation"
)

var (
	connectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quince_connections_total",
			Help: "Total number of connections assigned to each backend server.",
		},
		[]string{"server"},
	)
	memberFlowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quince_member_flows_total",
			Help: "Total number of flows assigned to each aggregation member.",
		},
		[]string{"link", "member"},
	)
	memberLoadBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quince_member_load_bytes",
			Help: "Current load counter of each aggregation member.",
		},
		[]string{"link", "member"},
	)
	policyExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quince_policy_exhausted_total",
			Help: "Total number of packets dropped because a policy has no candidate.",
		},
		[]string{"policy"},
	)
	activeBindings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quince_active_bindings",
			Help: "Number of the live server bindings.",
		},
	)
)
