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

package learning

import (
	"time"

	"golang.org/x/time/rate"
)

type stormController struct {
	limiter *rate.Limiter
	bcaster broadcaster
	now     func() time.Time
}

type broadcaster interface {
	flood(b bridge, inPort uint32, packet []byte) error
}

// max is the number of broadcasts that are allowed per second.
func newStormController(max int, bcaster broadcaster) *stormController {
	if max <= 0 {
		panic("max should be greater than zero")
	}
	if bcaster == nil {
		panic("bcaster is nil")
	}

	return &stormController{
		limiter: rate.NewLimiter(rate.Limit(max), max),
		bcaster: bcaster,
		now:     time.Now,
	}
}

// broadcast floods packet if the rate of the broadcasts does not exceed the limit. Otherwise it drops packet.
func (r *stormController) broadcast(b bridge, inPort uint32, packet []byte) error {
	if !r.limiter.AllowN(r.now(), 1) {
		logger.Info("too many broadcasts: broadcast is denied to avoid the broadcast storm!")
		return nil
	}

	return r.bcaster.flood(b, inPort, packet)
}
