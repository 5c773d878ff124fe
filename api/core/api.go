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

package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/superkkt/quince/api"
	"github.com/superkkt/quince/northbound/app/qos"

	"github.com/ant0ine/go-json-rest/rest"
	"github.com/davecgh/go-spew/spew"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

const (
	defaultDecisionLimit = 100
	maxDecisionLimit     = 10000
)

var (
	logger = logging.MustGetLogger("core")
)

type API struct {
	api.Server
}

func (r *API) routes() []*rest.Route {
	return []*rest.Route{
		rest.Get("/api/v1/status", r.status),
		rest.Get("/api/v1/bindings", r.bindings),
		rest.Put("/api/v1/server/:name", r.updateServer),
		rest.Get("/api/v1/decisions", r.decisions),
	}
}

func (r *API) Handler() (http.Handler, error) {
	return r.Server.Handler(r.routes()...)
}

func (r *API) Serve(ctx context.Context) error {
	return r.Server.Serve(ctx, r.routes()...)
}

func (r *API) status(w rest.ResponseWriter, req *rest.Request) {
	logger.Debugf("status request from %v", req.RemoteAddr)
	w.WriteJson(&api.Response{Status: api.StatusOkay, Data: r.Controller.Status()})
}

func (r *API) bindings(w rest.ResponseWriter, req *rest.Request) {
	logger.Debugf("bindings request from %v", req.RemoteAddr)
	w.WriteJson(&api.Response{Status: api.StatusOkay, Data: r.Controller.Bindings()})
}

func (r *API) updateServer(w rest.ResponseWriter, req *rest.Request) {
	p := new(updateServerParam)
	if err := req.DecodeJsonPayload(p); err != nil {
		w.WriteJson(api.Response{Status: api.StatusInvalidParameter, Message: err.Error()})
		return
	}
	name := req.PathParam("name")
	logger.Debugf("update server request from %v: name=%v, param=%v", req.RemoteAddr, name, spew.Sdump(p))

	if err := r.Controller.SetServerReachable(name, *p.Reachable); err != nil {
		if errors.Cause(err) == qos.ErrUnknownServer {
			w.WriteJson(api.Response{Status: api.StatusNotFound, Message: fmt.Sprintf("unknown server: %v", name)})
			return
		}
		w.WriteJson(api.Response{Status: api.StatusInternalServerError, Message: err.Error()})
		return
	}

	w.WriteJson(api.Response{Status: api.StatusOkay})
}

type updateServerParam struct {
	Reachable *bool `json:"reachable"`
}

func (r *updateServerParam) UnmarshalJSON(data []byte) error {
	v := struct {
		Reachable *bool `json:"reachable"`
	}{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Reachable == nil {
		return errors.New("missing reachable")
	}
	r.Reachable = v.Reachable

	return nil
}

type decision struct {
	Timestamp time.Time `json:"timestamp"`
	DPID      uint64    `json:"dpid"`
	Flow      string    `json:"flow"`
	Server    string    `json:"server,omitempty"`
	Link      string    `json:"link,omitempty"`
	Member    *int      `json:"member,omitempty"`
}

func newDecision(d qos.Decision) decision {
	v := decision{
		Timestamp: d.Timestamp,
		DPID:      d.DPID,
		Flow:      d.Flow.String(),
		Server:    d.Server,
		Link:      d.Link,
	}
	if d.Member >= 0 {
		m := d.Member
		v.Member = &m
	}

	return v
}

func (r *API) decisions(w rest.ResponseWriter, req *rest.Request) {
	if r.Journal == nil {
		w.WriteJson(api.Response{Status: api.StatusServiceUnavailable, Message: "decision journal is disabled"})
		return
	}

	limit := defaultDecisionLimit
	if s := req.URL.Query().Get("limit"); len(s) > 0 {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 || v > maxDecisionLimit {
			w.WriteJson(api.Response{Status: api.StatusInvalidParameter, Message: fmt.Sprintf("invalid limit: %v", s)})
			return
		}
		limit = v
	}
	logger.Debugf("decisions request from %v: limit=%v", req.RemoteAddr, limit)

	result, err := r.Journal.Decisions(limit)
	if err != nil {
		logger.Errorf("failed to query the decisions: %v", err)
		w.WriteJson(api.Response{Status: api.StatusInternalServerError, Message: err.Error()})
		return
	}
	v := make([]decision, 0, len(result))
	for _, d := range result {
		v = append(v, newDecision(d))
	}

	w.WriteJson(api.Response{Status: api.StatusOkay, Data: v})
}
