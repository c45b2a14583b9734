package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nicolagi/atlassync/config"
	"github.com/nicolagi/atlassync/coordinator"
	log "github.com/sirupsen/logrus"
)

func main() {
	base := flag.String("base", config.DefaultBaseDirectoryPath, "base `directory` for configuration and replica identity")
	watchPath := flag.String("watch-path", "", "`directory` to keep synchronized (required on first run, when no config exists yet)")
	peerId := flag.String("peer-id", "", "bootstrap peer `id` to join via initial sync; empty to start a fresh network")
	var levels []string
	for _, l := range log.AllLevels {
		levels = append(levels, l.String())
	}
	defaultLevel := "info"
	if env := os.Getenv("ATLASSYNC_LOG_LEVEL"); env != "" {
		defaultLevel = env
	}
	logLevel := flag.String("verbosity", defaultLevel, "sets the log `level`, among "+strings.Join(levels, ", ")+"; defaults to $ATLASSYNC_LOG_LEVEL if set")
	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -verbosity %q: %v\n", *logLevel, err)
		os.Exit(1)
	}
	log.SetLevel(level)

	cfg, err := config.Load(*base)
	if err != nil {
		if *watchPath == "" {
			log.WithError(err).Fatal("could not load config, and -watch-path was not given to initialize one")
		}
		if err := config.Initialize(*base, *watchPath); err != nil {
			log.WithError(err).Fatal("could not initialize config")
		}
		cfg, err = config.Load(*base)
		if err != nil {
			log.WithError(err).Fatal("could not load config after initializing it")
		}
	}
	if *peerId != "" {
		cfg.BootstrapPeer = *peerId
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Info("received shutdown signal")
		cancel()
	}()

	replica, err := coordinator.Boot(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("could not boot replica")
	}
	defer func() { _ = replica.Close() }()

	if err := replica.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("replica exited with error")
	}
}
