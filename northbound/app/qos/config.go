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
	"fmt"
	"net"
	"net/netip"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	defaultVirtualMAC      = "00:00:00:00:00:01"
	defaultFlowIdleTimeout = 30
	defaultFlowWeight      = 1 << 20
	// Ports larger than this value are reserved by OpenFlow.
	maxPortNumber = 0xffffff00
)

var (
	ErrInconsistentTopology = errors.New("inconsistent topology")
)

type ServerConfig struct {
	Name string `mapstructure:"name"`
	IP   string `mapstructure:"ip"`
	MAC  string `mapstructure:"mac"`
	// Attachment point of the server
	DPID uint64 `mapstructure:"dpid"`
	Port uint32 `mapstructure:"port"`
}

type MemberConfig struct {
	PortA uint32 `mapstructure:"port_a"`
	PortB uint32 `mapstructure:"port_b"`
}

type LinkConfig struct {
	Name    string         `mapstructure:"name"`
	SwitchA uint64         `mapstructure:"switch_a"`
	SwitchB uint64         `mapstructure:"switch_b"`
	Members []MemberConfig `mapstructure:"members"`
}

type Config struct {
	VirtualIP  string `mapstructure:"virtual_ip"`
	VirtualMAC string `mapstructure:"virtual_mac"`
	// Seconds. Zero means no timeout.
	FlowIdleTimeout uint16 `mapstructure:"flow_idle_timeout"`
	FlowHardTimeout uint16 `mapstructure:"flow_hard_timeout"`
	// Estimated bytes that a new flow will carry during a statistics interval.
	FlowWeight      uint64         `mapstructure:"flow_weight"`
	Servers         []ServerConfig `mapstructure:"servers"`
	AggregatedLinks []LinkConfig   `mapstructure:"aggregated_links"`
}

// LoadConfig reads the qos section of v and validates it.
func LoadConfig(v *viper.Viper) (Config, error) {
	v.SetDefault("qos.virtual_mac", defaultVirtualMAC)
	v.SetDefault("qos.flow_idle_timeout", defaultFlowIdleTimeout)
	v.SetDefault("qos.flow_weight", defaultFlowWeight)

	// Unmarshal merges the defaults of the nested keys while UnmarshalKey does not.
	wrapper := struct {
		QoS Config `mapstructure:"qos"`
	}{}
	if err := v.Unmarshal(&wrapper); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode the qos configuration")
	}
	if _, err := newRegistry(wrapper.QoS); err != nil {
		return Config{}, err
	}

	return wrapper.QoS, nil
}

func parseIPv4(s string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(s)
	if err != nil || !ip.Is4() {
		return netip.Addr{}, fmt.Errorf("invalid IPv4 address: %v", s)
	}

	return ip, nil
}

func parseMAC(s string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil || len(mac) != 6 {
		return nil, fmt.Errorf("invalid MAC address: %v", s)
	}

	return mac, nil
}

func validPort(p uint32) bool {
	return p > 0 && p <= maxPortNumber
}

func (r Config) validate() error {
	if r.FlowIdleTimeout == 0 && r.FlowHardTimeout == 0 {
		return errors.New("both qos.flow_idle_timeout and qos.flow_hard_timeout are zero: flows would never expire")
	}
	if r.FlowWeight == 0 {
		return errors.New("qos.flow_weight should be larger than zero")
	}
	if len(r.Servers) == 0 {
		return errors.New("empty qos.servers")
	}

	return nil
}
