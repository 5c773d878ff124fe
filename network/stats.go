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

package network

import (
	"context"
	"time"

	"github.com/superkkt/quince/openflow/of13"
)

// runStatsPoller periodically queries the statistics of all the ports. Replies are
// delivered to the event listener by OnPortStatsReply. A device that never replies
// just leaves its statistics stale.
func (r *session) runStatsPoller(ctx context.Context) context.CancelFunc {
	subCtx, canceller := context.WithCancel(ctx)
	if r.statsInterval <= 0 {
		logger.Debug("port statistics polling is disabled")
		return canceller
	}

	go func() {
		ticker := time.NewTicker(r.statsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-subCtx.Done():
				logger.Debugf("terminating the statistics poller: deviceID=%v", r.device.ID())
				return
			case <-ticker.C:
			}

			if !r.isActive() {
				continue
			}
			if err := r.device.SendMessage(r.device.Factory().NewPortStatsRequest(of13.OFPP_ANY)); err != nil {
				logger.Errorf("failed to send a port statistics request: %v", err)
				continue
			}
		}
	}()

	return canceller
}
