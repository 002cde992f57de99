// Command raftkvd runs a single replicated key/value node, reading its
// identity, membership and timing knobs from a JSON configuration file.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/ssmike/raftkv/internal/config"
	"github.com/ssmike/raftkv/internal/node"
	"github.com/ssmike/raftkv/internal/transport"
)

func main() {
	logLevel := flag.String("log-level", "info", "logrus level: debug, info, warn, error")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: raftkvd <config.json>")
		os.Exit(2)
	}
	configPath := flag.Arg(0)

	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "raftkvd: %v\n", err)
		os.Exit(2)
	}
	logger.SetLevel(level)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.WithError(err).Fatal("raftkvd: load config")
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		logger.WithError(err).Fatal("raftkvd: create data directory")
	}

	peers := make(map[int64]string, len(cfg.Members)-1)
	for i, m := range cfg.Members {
		if int64(i) == cfg.ID {
			continue
		}
		peers[int64(i)] = fmt.Sprintf("%s:%d", m.Host, m.Port)
	}

	listenAddr := fmt.Sprintf("%s:%d", cfg.Members[cfg.ID].Host, cfg.Members[cfg.ID].Port)
	tr, err := transport.NewTCPTransport(cfg.ID, listenAddr, peers, logger.WithField("node", cfg.ID))
	if err != nil {
		logger.WithError(err).Fatal("raftkvd: start transport")
	}
	defer tr.Close()

	n, err := node.New(cfg, tr, logger)
	if err != nil {
		logger.WithError(err).Fatal("raftkvd: start node")
	}

	logger.Infof("raftkvd: node %d listening on %s", cfg.ID, listenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("raftkvd: shutting down")
	n.Stop()
}
