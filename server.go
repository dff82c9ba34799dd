//go:build linux
// +build linux

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fzft/go-wake-event/config"
	"github.com/fzft/go-wake-event/log"
	"github.com/fzft/go-wake-event/system"
	"go.uber.org/zap"
)

type Server struct {
	cfg *config.Config
}

func NewServer(cfg *config.Config) *Server {
	return &Server{
		cfg: cfg,
	}
}

func (s *Server) Run() error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGUSR1)
	defer signal.Stop(signals)

	reactor, err := NewReactor(s.cfg, signals)
	if err != nil {
		return err
	}
	defer reactor.Close()

	if system.DefaultBackend == system.BackendNamedFifo {
		monitor, err := system.WatchRendezvous(s.cfg.Wake.FifoPath)
		if err != nil {
			log.Logger.Warn("Failed to watch wake fifo", zap.String("path", s.cfg.Wake.FifoPath), zap.Error(err))
		} else {
			defer monitor.Close()
		}
	}

	log.Logger.Info("wake event loop running",
		zap.Stringer("backend", system.DefaultBackend),
		zap.Int("pid", os.Getpid()))
	// blocking
	err = reactor.Run()

	log.Logger.Info("shutting down server")
	return err
}
