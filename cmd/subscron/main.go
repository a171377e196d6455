/*
DESCRIPTION
  subscron is a service that checks the queries of every subscription
  on a schedule, and offers a small API to inspect subscriptions, ask
  for queries to be checked now and trigger a pass.

LICENSE
  Copyright (C) 2026 the Australian Ocean Lab (AusOcean)

  This is free software: you can redistribute it and/or modify it
  under the terms of the GNU General Public License as published by
  the Free Software Foundation, either version 3 of the License, or
  (at your option) any later version.

  It is distributed in the hope that it will be useful,
  but WITHOUT ANY WARRANTY; without even the implied warranty of
  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
  GNU General Public License for more details.

  You should have received a copy of the GNU General Public License
  in gpl.txt. If not, see http://www.gnu.org/licenses/.
*/

// subscron is a cloud service running subscription checks.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
	_ "time/tzdata" // Schedule location.

	"github.com/ausocean/openfish/datastore"
	"github.com/ausocean/utils/logging"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/subsync/bandwidth"
	"github.com/ausocean/subsync/gauth"
	"github.com/ausocean/subsync/model"
	"github.com/ausocean/subsync/notify"
	"github.com/ausocean/subsync/scheduler"
)

const (
	projectID      = "subsync"
	version        = "v0.1.0"
	serviceAccount = "subscron@appspot.gserviceaccount.com"
)

// Logging configuration.
const (
	logMaxSize   = 500 // MB
	logMaxBackup = 10
	logMaxAge    = 28 // days
	logSuppress  = true
)

// service holds the state of the service.
type service struct {
	setupMutex sync.Mutex
	store      datastore.Store
	debug      bool
	standalone bool
	storePath  string
	spec       string
	endpoint   string
	timeout    time.Duration
	apiSecret  []byte
	log        logging.Logger
	notifier   notify.Notifier
	sched      *scheduler.Scheduler
}

func main() {
	defaultPort := 8082
	v := os.Getenv("PORT")
	if v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			defaultPort = i
		}
	}

	svc := &service{}
	var host, logPath string
	var port int
	flag.BoolVar(&svc.debug, "debug", false, "Run in debug mode.")
	flag.BoolVar(&svc.standalone, "standalone", false, "Run in standalone mode.")
	flag.StringVar(&host, "host", "localhost", "Host we run on in standalone mode")
	flag.IntVar(&port, "port", defaultPort, "Port we listen on in standalone mode")
	flag.StringVar(&svc.storePath, "filestore", "store", "File store path")
	flag.StringVar(&svc.spec, "schedule", scheduler.DefaultSpec, "Cron spec of check passes")
	flag.StringVar(&svc.endpoint, "downloader", "http://localhost:8083/check", "Downloader endpoint")
	flag.DurationVar(&svc.timeout, "timeout", 4*time.Minute, "Maximum duration of a scheduled pass")
	flag.StringVar(&logPath, "log", "subscron.log", "Log file path")
	flag.Parse()

	level := logging.Info
	if svc.debug {
		level = logging.Debug
	}
	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	svc.log = logging.New(level, io.MultiWriter(os.Stderr, fileLog), logSuppress)

	// Perform one-time setup or bail.
	ctx := context.Background()
	svc.setup(ctx)
	svc.sched.Start()
	defer svc.sched.Stop()

	app := svc.newApp()
	listenOn := fmt.Sprintf("%s:%d", host, port)
	svc.log.Info("listening", "address", listenOn)
	err := app.Listen(listenOn)
	if err != nil {
		svc.log.Fatal("server stopped", "error", err)
	}
}

// setup executes per-instance one-time warmup and is used to
// initialize the datastore, the notifier and the scheduler. Any errors
// are considered fatal.
func (svc *service) setup(ctx context.Context) {
	svc.setupMutex.Lock()
	defer svc.setupMutex.Unlock()

	if svc.store != nil {
		return
	}

	var err error
	if svc.standalone {
		svc.log.Info("running in standalone mode")
		svc.store, err = datastore.NewStore(ctx, "file", projectID, svc.storePath)
	} else {
		svc.log.Info("running in App Engine mode")
		svc.store, err = datastore.NewStore(ctx, "cloud", projectID, "")
	}
	if err != nil {
		svc.log.Fatal("could not set up datastore", "error", err)
	}
	model.RegisterEntities()

	secrets, err := gauth.GetSecrets(ctx, projectID, nil)
	if err != nil {
		svc.log.Fatal("could not get secrets", "error", err)
	}
	if s, ok := secrets["apiSecret"]; ok {
		svc.apiSecret = []byte(s)
	} else {
		svc.log.Warning("no apiSecret, API changes are disabled")
	}

	recipients, period, err := notify.GetOpsEnvVars()
	if err != nil {
		svc.log.Warning("could not get ops env vars, using defaults", "error", err)
	}
	err = svc.notifier.Init(
		notify.WithSecrets(secrets),
		notify.WithRecipients(recipients),
		notify.WithPeriod(period),
		notify.WithStore(notify.NewTimeStore(svc.store)),
		notify.WithLogger(svc.log),
	)
	if err != nil {
		svc.log.Fatal("could not set up email notifier", "error", err)
	}

	dl := &scheduler.RemoteDownloader{Endpoint: svc.endpoint, Issuer: serviceAccount}
	if s, ok := secrets["downloaderSecret"]; ok {
		dl.Secret = []byte(s)
	}
	err = svc.setupScheduler(dl, scheduler.WithNotifier(&svc.notifier))
	if err != nil {
		svc.log.Fatal("could not set up scheduler", "error", err)
	}
}

// setupScheduler creates the bandwidth manager, runner and scheduler.
func (svc *service) setupScheduler(dl scheduler.Downloader, options ...scheduler.Option) error {
	bw, err := bandwidth.NewManager(svc.store, bandwidth.WithLogger(svc.log))
	if err != nil {
		return fmt.Errorf("could not create bandwidth manager: %w", err)
	}
	est := bandwidth.NewEstimator(bandwidth.StoreGUGs{Store: svc.store}, bw)
	options = append(options, scheduler.WithBandwidth(bw, est), scheduler.WithLogger(svc.log))
	r, err := scheduler.NewRunner(svc.store, dl, options...)
	if err != nil {
		return fmt.Errorf("could not create runner: %w", err)
	}
	svc.sched, err = scheduler.NewScheduler(r, svc.spec, nil, svc.timeout, svc.log)
	if err != nil {
		return fmt.Errorf("could not create scheduler: %w", err)
	}
	return nil
}
