package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roverlab/rover/internal/address"
	"github.com/roverlab/rover/internal/clock"
	"github.com/roverlab/rover/internal/config"
	"github.com/roverlab/rover/internal/controlplane"
	"github.com/roverlab/rover/internal/dataplane"
	"github.com/roverlab/rover/internal/distancevector"
	"github.com/roverlab/rover/internal/metrics"
	"github.com/roverlab/rover/internal/routetable"
	"github.com/roverlab/rover/internal/supervisor"
	"github.com/roverlab/rover/internal/telemetry"
	"github.com/roverlab/rover/internal/telemetry/eventbus"
)

func main() {
	id := flag.Int("id", -1, "this rover's ID, 0-255 (private address becomes 10.<id>.0.1)")
	groupFlag := flag.String("group", "239.0.0.1", "multicast group address for control-plane advertisements")
	port := flag.Int("port", 6000, "multicast port for control-plane advertisements")
	sendPath := flag.String("send", "", "path to a file to send; if empty this rover only relays and receives")
	destFlag := flag.String("dest", "", "destination private address (e.g. 10.4.0.1) for -send")
	cfgPath := flag.String("config", "", "path to a YAML or JSON config file overriding the defaults")
	wsAddr := flag.String("ws-addr", "", "host:port to serve a debug telemetry websocket on; empty disables it")
	mqttBroker := flag.String("mqtt-broker", "", "MQTT broker URL to mirror telemetry events to; empty disables it")
	logFilePath := flag.String("log-file", "", "path to a log file to tee output to; empty uses logging.file from -config, else a timestamped file under logs/")
	metricsFilePath := flag.String("metrics-file", "", "path to write the final metrics snapshot to; empty uses logging.metrics_file from -config, else a default under logs/")
	flag.Parse()

	if *id < 0 || *id > 255 {
		log.Fatalf("rover: -id is required and must be in [0, 255]")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("rover: loading config: %v", err)
	}

	if err := os.MkdirAll("logs", 0o755); err != nil {
		log.Fatalf("rover: creating logs directory: %v", err)
	}
	logPath := *logFilePath
	if logPath == "" {
		logPath = cfg.Logging.File
	}
	if logPath == "" {
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		logPath = fmt.Sprintf("logs/rover_%d_%s.log", *id, timestamp)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		log.Fatalf("rover: opening log file: %v", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	myID := uint8(*id)
	myPrivate := address.FromID(myID)
	log.SetPrefix(fmt.Sprintf("[rover %d %s] ", myID, myPrivate))
	myPublic, err := address.DiscoverPublic()
	if err != nil {
		log.Fatalf("rover: discovering public address: %v", err)
	}
	log.Printf("rover %d: private=%s public=%s", myID, myPrivate, myPublic)

	groupIP := net.ParseIP(*groupFlag)
	if groupIP == nil {
		log.Fatalf("rover: invalid -group address %q", *groupFlag)
	}

	table := routetable.New()
	bus := eventbus.New()
	coll := metrics.New()
	clk := clock.Real{}

	sup := supervisor.New()

	cpIO, err := controlplane.New(groupIP, *port, nil)
	if err != nil {
		log.Fatalf("rover: starting control plane: %v", err)
	}

	dv := distancevector.New(distancevector.Config{
		MyID:             myID,
		MyPrivate:        myPrivate,
		MyPublic:         myPublic,
		Table:            table,
		Clock:            clk,
		Emitter:          cpIO,
		Bus:              bus,
		Metrics:          coll,
		PeriodicInterval: cfg.ControlPlane.PeriodicInterval.AsDuration(),
		DeadInterval:     cfg.ControlPlane.DeadInterval.AsDuration(),
	})
	cpIO.SetHandler(dv)

	dpIO, err := dataplane.New(table, myPrivate, dataplane.OutputFileName, coll, bus)
	if err != nil {
		log.Fatalf("rover: starting data plane: %v", err)
	}

	sup.Add(supervisor.Component{Name: "control-plane-receive", Run: cpIO.Run})
	sup.Add(supervisor.Component{Name: "data-plane-receive", Run: dpIO.Run})

	dv.StartPeriodic()

	if *sendPath != "" {
		if *destFlag == "" {
			log.Fatalf("rover: -dest is required when -send is set")
		}
		dest, err := address.ParsePrivate(*destFlag)
		if err != nil {
			log.Fatalf("rover: invalid -dest %q: %v", *destFlag, err)
		}
		waiter, err := dataplane.NewAckWaiter()
		if err != nil {
			log.Fatalf("rover: starting ack waiter: %v", err)
		}
		sender := dataplane.NewSender(dpIO, dest, *sendPath, clk, waiter, coll).
			WithChunkSize(cfg.DataPlane.ChunkSize).
			WithAckTimeout(cfg.DataPlane.AckTimeout.AsDuration()).
			WithStartupDelay(cfg.DataPlane.StartupDelay.AsDuration()).
			WithRoutePollInterval(cfg.DataPlane.RoutePollRate.AsDuration())
		sup.Add(supervisor.Component{Name: "sender", Run: func(ctx context.Context) error {
			defer waiter.Close()
			return sender.Run(ctx)
		}})
	}

	if *wsAddr != "" {
		srv := telemetry.NewServer(bus, *wsAddr)
		sup.Add(supervisor.Component{Name: "telemetry-websocket", Optional: true, Run: srv.Run})
	}

	if *mqttBroker != "" {
		publisher, err := telemetry.NewMQTTPublisher(*mqttBroker, fmt.Sprintf("rover-%d", myID), "rover/events", bus)
		if err != nil {
			log.Printf("rover: mqtt telemetry disabled: %v", err)
		} else {
			sup.Add(supervisor.Component{Name: "telemetry-mqtt", Optional: true, Run: publisher.Run})
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	runErr := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { runErr <- sup.Run(ctx) }()

	metricsFile := *metricsFilePath
	if metricsFile == "" {
		metricsFile = cfg.Logging.MetricsFile
	}
	if metricsFile == "" {
		metricsFile = fmt.Sprintf("logs/rover_%d_metrics.json", myID)
	}

	var fatalErr error
	select {
	case err := <-runErr:
		if err != nil {
			log.Printf("rover: fatal component error: %v", err)
			fatalErr = err
		}
	case s := <-sigCh:
		log.Printf("rover: received signal %v, shutting down", s)
		cancel()
		<-runErr
	}

	if err := coll.WriteJSONFile(metricsFile); err != nil {
		log.Printf("rover: flushing metrics: %v", err)
	} else {
		log.Printf("rover: metrics written to %s", metricsFile)
	}
	if fatalErr != nil {
		os.Exit(1)
	}
}
