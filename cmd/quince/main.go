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

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/superkkt/quince/api"
	"github.com/superkkt/quince/api/core"
	"github.com/superkkt/quince/database"
	"github.com/superkkt/quince/log"
	"github.com/superkkt/quince/network"
	"github.com/superkkt/quince/northbound"
	"github.com/superkkt/quince/northbound/app/learning"
	"github.com/superkkt/quince/northbound/app/qos"

	"github.com/fsnotify/fsnotify"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const (
	programName    = "quince"
	programVersion = "0.1.0"
	backlogSize    = 32
)

var (
	logger            = logging.MustGetLogger("main")
	loggerLeveled     logging.LeveledBackend
	showVersion       = flag.Bool("version", false, "Show program version and exit")
	defaultConfigFile = flag.String("config", fmt.Sprintf("/usr/local/etc/%v.yaml", programName), "absolute path of the configuration file")
)

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())
	flag.Parse()
	if *showVersion {
		fmt.Printf("Version: %v\n", programVersion)
		os.Exit(0)
	}

	initConfig()
	if err := initLog(getLogLevel(viper.GetString("default.log_level"))); err != nil {
		logger.Fatalf("failed to init log: %v", err)
	}

	var db *database.MySQL
	if viper.GetBool("mysql.enable") {
		var err error
		if db, err = initDatabase(); err != nil {
			logger.Fatalf("failed to init MySQL database: %v", err)
		}
		defer db.Close()
	}

	service, err := createQoS(db)
	if err != nil {
		logger.Fatalf("failed to create the QoS application: %v", err)
	}
	manager, err := createAppManager(service)
	if err != nil {
		logger.Fatalf("failed to create application manager: %v", err)
	}
	controller := network.NewController(network.Config{
		StatsInterval: time.Duration(viper.GetInt("default.stats_interval")) * time.Second,
	})
	manager.AddEventSender(controller)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listen(ctx, viper.GetInt("default.port"), controller)
	})
	g.Go(func() error {
		return newAPIServer(service, db).Serve(ctx)
	})
	g.Go(func() error {
		return handleSignal(ctx, cancel, controller, manager)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("terminated: %v", err)
	}
	logger.Warning("shutdown completed")
}

func initConfig() {
	viper.SetConfigFile(*defaultConfigFile)
	viper.SetDefault("default.port", 6653)
	viper.SetDefault("default.log_level", "info")
	viper.SetDefault("default.log_backend", "syslog")
	viper.SetDefault("default.stats_interval", 5)
	viper.SetDefault("default.flow_cache_timeout", 2000)
	viper.SetDefault("rest.port", 7070)
	// Read the config file.
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatalf("failed to read the config file: %v", err)
	}
	// Watching and re-reading config file whenever it changes.
	viper.OnConfigChange(func(e fsnotify.Event) {
		// Ignore the WRITE operation to avoid reading empty config.
		if !e.Has(fsnotify.Write) {
			return
		}

		if loggerLeveled != nil {
			// Set log level for all modules
			loggerLeveled.SetLevel(getLogLevel(viper.GetString("default.log_level")), "")
		}
	})
	viper.WatchConfig()
	if err := validateConfig(); err != nil {
		logger.Fatalf("failed to validate the configuration: %v", err)
	}
}

func validateConfig() error {
	if port := viper.GetInt("default.port"); port <= 0 || port > 0xFFFF {
		return errors.New("invalid default.port")
	}
	if port := viper.GetInt("rest.port"); port <= 0 || port > 0xFFFF {
		return errors.New("invalid rest.port")
	}
	if viper.GetInt("default.stats_interval") < 0 {
		return errors.New("invalid default.stats_interval")
	}
	if viper.GetInt("default.flow_cache_timeout") <= 0 {
		return errors.New("invalid default.flow_cache_timeout")
	}
	if viper.GetBool("rest.tls") {
		if len(viper.GetString("rest.cert_file")) == 0 || len(viper.GetString("rest.key_file")) == 0 {
			return errors.New("invalid rest.cert_file or rest.key_file")
		}
	}

	return nil
}

func initLog(level logging.Level) error {
	backend, err := log.New(viper.GetString("default.log_backend"), programName, level)
	if err != nil {
		return err
	}
	loggerLeveled = backend
	logging.SetBackend(loggerLeveled)

	return nil
}

func getLogLevel(level string) logging.Level {
	v, ok := log.ParseLevel(level)
	if !ok {
		logger.Infof("invalid log level=%v, defaulting to %v..", level, v)
	}

	return v
}

func initDatabase() (*database.MySQL, error) {
	conf := database.Config{}
	if err := viper.UnmarshalKey("mysql", &conf); err != nil {
		return nil, errors.Wrap(err, "failed to decode the mysql configuration")
	}

	return database.NewMySQL(conf)
}

func createQoS(db *database.MySQL) (*qos.QoS, error) {
	conf, err := qos.LoadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	// A nil pointer must not be converted into a non-nil interface.
	if db == nil {
		return qos.New(conf, nil)
	}

	return qos.New(conf, db)
}

func createAppManager(service *qos.QoS) (*northbound.Manager, error) {
	conf := learning.Config{}
	if err := viper.UnmarshalKey("learning", &conf); err != nil {
		return nil, errors.Wrap(err, "failed to decode the learning configuration")
	}
	conf.CacheTimeout = time.Duration(viper.GetInt("default.flow_cache_timeout")) * time.Millisecond

	manager := northbound.NewManager()
	if err := manager.Register(service); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("registering %v", service))
	}
	fallback := learning.New(conf)
	if err := manager.SetFallback(fallback); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("registering %v", fallback))
	}

	return manager, nil
}

func newAPIServer(service *qos.QoS, db *database.MySQL) *core.API {
	conf := api.Server{}
	conf.Port = uint16(viper.GetInt("rest.port"))
	if viper.GetBool("rest.tls") {
		conf.TLS.Cert = viper.GetString("rest.cert_file")
		conf.TLS.Key = viper.GetString("rest.key_file")
	}
	conf.Controller = service.Core()
	if db != nil {
		conf.Journal = db
	}

	return &core.API{Server: conf}
}

func handleSignal(ctx context.Context, cancel context.CancelFunc, controller *network.Controller, manager *northbound.Manager) error {
	c := make(chan os.Signal, 5)
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(c)

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-c:
			if s == syscall.SIGHUP {
				fmt.Println("* Controller status:")
				fmt.Println(controller.String())
				fmt.Printf("\n* Manager status:\n")
				fmt.Println(manager.String())
				continue
			}
			// Graceful shutdown
			logger.Warning("shutting down...")
			cancel()
			return nil
		}
	}
}

func listen(ctx context.Context, port int, controller *network.Controller) error {
	type KeepAliver interface {
		SetKeepAlive(keepalive bool) error
		SetKeepAlivePeriod(d time.Duration) error
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%v", port))
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("failed to listen on %v port", port))
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	// Connection dispatcher.
	backlog := make(chan net.Conn, backlogSize)
	go func() {
		defer close(backlog)
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Errorf("failed to accept a new connection: %v", err)
				continue
			}
			logger.Infof("new device is connected from %v", conn.RemoteAddr())
			// Pass the new connection into the backlog queue.
			backlog <- conn
		}
	}()

	for conn := range backlog {
		if v, ok := conn.(KeepAliver); ok {
			if err := v.SetKeepAlive(true); err == nil {
				// A broken connection will be disconnected within 45 seconds.
				v.SetKeepAlivePeriod(5 * time.Second)
			} else {
				logger.Errorf("failed to enable socket keepalive: %v", err)
			}
		}
		controller.AddConnection(ctx, conn)
	}
	logger.Debug("terminated the main listener loop")

	return nil
}
