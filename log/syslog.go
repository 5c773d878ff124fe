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

package log

import (
	"fmt"
	slog "log/syslog"
	"os"
	"runtime"
	"strings"

	"github.com/op/go-logging"
)

const (
	DefaultLevel = logging.INFO

	format = `%{level}: %{shortpkg}.%{shortfunc}: %{message}`
)

type syslog struct {
	writer *slog.Writer
}

// NewSyslog returns a backend that writes to the local syslog daemon with the program name prefix.
func NewSyslog(prefix string) (logging.Backend, error) {
	w, err := slog.New(slog.LOG_INFO|slog.LOG_DAEMON, prefix)
	if err != nil {
		return nil, err
	}

	return &syslog{writer: w}, nil
}

func (r *syslog) Log(level logging.Level, calldepth int, record *logging.Record) error {
	line := fmt.Sprintf("%v (TID=%v)", record.Formatted(calldepth+1), goroutineID())
	switch level {
	case logging.CRITICAL:
		return r.writer.Crit(line)
	case logging.ERROR:
		return r.writer.Err(line)
	case logging.WARNING:
		return r.writer.Warning(line)
	case logging.NOTICE:
		return r.writer.Notice(line)
	case logging.INFO:
		return r.writer.Info(line)
	case logging.DEBUG:
		return r.writer.Debug(line)
	default:
		panic("unexpected log level")
	}
}

func goroutineID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))[0]
}

// New returns a leveled backend of the kind: syslog or stderr.
func New(kind, prefix string, level logging.Level) (logging.LeveledBackend, error) {
	var backend logging.Backend
	switch strings.ToLower(kind) {
	case "", "syslog":
		b, err := NewSyslog(prefix)
		if err != nil {
			return nil, err
		}
		backend = b
	case "stderr":
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	default:
		return nil, fmt.Errorf("unknown log backend: %v", kind)
	}
	backend = logging.NewBackendFormatter(backend, logging.MustStringFormatter(format))

	leveled := logging.AddModuleLevel(backend)
	// Set log level for all modules
	leveled.SetLevel(level, "")

	return leveled, nil
}

// ParseLevel returns the level named level. It returns DefaultLevel if the name is invalid.
func ParseLevel(level string) (logging.Level, bool) {
	v, err := logging.LogLevel(strings.ToUpper(level))
	if err != nil {
		return DefaultLevel, false
	}

	return v, true
}
