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

package database

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"net"
	"net/netip"
	"runtime"
	"strings"
	"time"

	"github.com/superkkt/quince/network"
	"github.com/superkkt/quince/northbound/app/qos"

	"github.com/go-sql-driver/mysql"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

const (
	maxDeadlockRetry = 5

	deadlockErrCode uint16 = 1213

	clusterDialerNetwork = "cluster"
)

var (
	logger = logging.MustGetLogger("database")

	maxIdleConn = runtime.NumCPU()
	maxOpenConn = maxIdleConn * 2
)

type Config struct {
	// Comma separated addresses of the cluster nodes
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type MySQL struct {
	db     *sql.DB
	random *rand.Rand
}

func NewMySQL(c Config) (*MySQL, error) {
	if err := validateClusterAddr(c.Addr); err != nil {
		return nil, err
	}
	// Register the custom dialer.
	mysql.RegisterDialContext(clusterDialerNetwork, clusterDialer)

	param := "readTimeout=1m&writeTimeout=1m&parseTime=true&loc=Local&maxAllowedPacket=0"
	dsn := fmt.Sprintf("%v:%v@%v(%v)/%v?%v", c.Username, c.Password, clusterDialerNetwork, c.Addr, c.Name, param)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpenConn)
	db.SetMaxIdleConns(maxIdleConn)
	// Make sure that all the connections are established to a same node, instead of distributing them into multiple nodes.
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to the database")
	}

	v := &MySQL{
		db:     db,
		random: rand.New(&lockedSource{src: rand.NewSource(time.Now().Unix())}),
	}
	if err := v.query(createSchema); err != nil {
		return nil, errors.Wrap(err, "failed to create the schema")
	}

	return v, nil
}

func (r *MySQL) Close() error {
	return r.db.Close()
}

func splitClusterAddr(addr string) []string {
	return strings.Split(strings.Replace(addr, " ", "", -1), ",")
}

func validateClusterAddr(addr string) error {
	if len(addr) == 0 {
		return errors.New("empty cluster address")
	}

	for _, v := range splitClusterAddr(addr) {
		if _, _, err := net.SplitHostPort(v); err != nil {
			return fmt.Errorf("invalid cluster address: %v: %v", v, err)
		}
	}

	return nil
}

// clusterDialer tries to sequentially connect to each hosts from the address in the
// order of their appearance and then returns the first successfully connected one.
func clusterDialer(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	for _, v := range splitClusterAddr(addr) {
		logger.Debugf("dialing to %v", v)
		conn, err := dialer.DialContext(ctx, "tcp", v)
		if err == nil {
			// Connected!
			logger.Debugf("successfully connected to %v", v)
			return conn, nil
		}
		logger.Errorf("failed to dial: %v", err)
	}

	return nil, errors.New("failed to dial: no available cluster node")
}

func isDeadlock(err error) bool {
	e, ok := errors.Cause(err).(*mysql.MySQLError)
	if !ok {
		return false
	}

	return e.Number == deadlockErrCode
}

func (r *MySQL) query(f func(*sql.Tx) error) error {
	deadlockRetry := 0

	for {
		tx, err := r.db.Begin()
		if err != nil {
			return err
		}

		err = f(tx)
		// Success?
		if err == nil {
			// Yes! but Commit also may raise an error.
			err = tx.Commit()
			if err == nil {
				return nil
			}
			// Fallthrough!
		}
		// No! query failed.
		tx.Rollback()

		// Need to retry due to a deadlock?
		if !isDeadlock(err) || deadlockRetry >= maxDeadlockRetry {
			return err
		}
		// Yes, a deadlock occurrs. Re-execute the queries again after some sleep!
		logger.Infof("query failed due to a deadlock: caller=%v", caller())
		time.Sleep(backoff(r.random, deadlockRetry))
		deadlockRetry++
	}
}

func caller() string {
	pc, file, line, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}

	f := runtime.FuncForPC(pc)
	if f == nil {
		return fmt.Sprintf("%v:%v", file, line)
	}

	return fmt.Sprintf("%v (%v:%v)", f.Name(), file, line)
}

func createSchema(tx *sql.Tx) error {
	qry := "CREATE TABLE IF NOT EXISTS `decision` ("
	qry += " `id` BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,"
	qry += " `timestamp` DATETIME(3) NOT NULL,"
	qry += " `dpid` BIGINT UNSIGNED NOT NULL,"
	qry += " `src_ip` VARCHAR(15) NOT NULL,"
	qry += " `dst_ip` VARCHAR(15) NOT NULL,"
	qry += " `protocol` TINYINT UNSIGNED NOT NULL,"
	qry += " `src_port` SMALLINT UNSIGNED NOT NULL,"
	qry += " `dst_port` SMALLINT UNSIGNED NOT NULL,"
	qry += " `server` VARCHAR(64) NULL,"
	qry += " `link` VARCHAR(64) NULL,"
	qry += " `member` INT NOT NULL DEFAULT -1,"
	qry += " PRIMARY KEY (`id`),"
	qry += " INDEX `timestamp` (`timestamp`)"
	qry += ") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	_, err := tx.Exec(qry)

	return err
}

// decisionRow is a row of the decision table.
type decisionRow struct {
	timestamp time.Time
	dpid      uint64
	srcIP     string
	dstIP     string
	protocol  uint8
	srcPort   uint16
	dstPort   uint16
	server    sql.NullString
	link      sql.NullString
	member    int
}

func newDecisionRow(d qos.Decision) decisionRow {
	return decisionRow{
		timestamp: d.Timestamp,
		dpid:      d.DPID,
		srcIP:     d.Flow.SrcIP.String(),
		dstIP:     d.Flow.DstIP.String(),
		protocol:  d.Flow.Protocol,
		srcPort:   d.Flow.SrcPort,
		dstPort:   d.Flow.DstPort,
		server:    sql.NullString{String: d.Server, Valid: len(d.Server) > 0},
		link:      sql.NullString{String: d.Link, Valid: len(d.Link) > 0},
		member:    d.Member,
	}
}

func (r decisionRow) decision() (qos.Decision, error) {
	src, err := netip.ParseAddr(r.srcIP)
	if err != nil {
		return qos.Decision{}, errors.Wrap(err, "invalid source IP address")
	}
	dst, err := netip.ParseAddr(r.dstIP)
	if err != nil {
		return qos.Decision{}, errors.Wrap(err, "invalid destination IP address")
	}

	return qos.Decision{
		Timestamp: r.timestamp,
		DPID:      r.dpid,
		Flow: network.FlowKey{
			SrcIP:    src,
			DstIP:    dst,
			Protocol: r.protocol,
			SrcPort:  r.srcPort,
			DstPort:  r.dstPort,
		},
		Server: r.server.String,
		Link:   r.link.String,
		Member: r.member,
	}, nil
}

func (r *MySQL) AddDecision(d qos.Decision) error {
	row := newDecisionRow(d)
	f := func(tx *sql.Tx) error {
		qry := "INSERT INTO `decision` (`timestamp`, `dpid`, `src_ip`, `dst_ip`, `protocol`, `src_port`, `dst_port`, `server`, `link`, `member`) "
		qry += "VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		_, err := tx.Exec(qry, row.timestamp, row.dpid, row.srcIP, row.dstIP, row.protocol, row.srcPort, row.dstPort, row.server, row.link, row.member)
		return err
	}

	return r.query(f)
}

// Decisions returns the latest decisions up to limit.
func (r *MySQL) Decisions(limit int) (result []qos.Decision, err error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid limit: %v", limit)
	}

	f := func(tx *sql.Tx) error {
		qry := "SELECT `timestamp`, `dpid`, `src_ip`, `dst_ip`, `protocol`, `src_port`, `dst_port`, `server`, `link`, `member` "
		qry += "FROM `decision` ORDER BY `id` DESC LIMIT ?"
		rows, err := tx.Query(qry, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		result = make([]qos.Decision, 0)
		for rows.Next() {
			v := decisionRow{}
			if err := rows.Scan(&v.timestamp, &v.dpid, &v.srcIP, &v.dstIP, &v.protocol, &v.srcPort, &v.dstPort, &v.server, &v.link, &v.member); err != nil {
				return err
			}
			d, err := v.decision()
			if err != nil {
				return err
			}
			result = append(result, d)
		}

		return rows.Err()
	}

	if err = r.query(f); err != nil {
		return nil, err
	}

	return result, nil
}
