//go:build linux
// +build linux

package main

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/fzft/go-wake-event/config"
	"github.com/fzft/go-wake-event/log"
	"github.com/fzft/go-wake-event/system"
	"go.uber.org/zap"
)

// Reactor owns the event loop goroutine. Signals are turned into loop tasks
// (SIGUSR1) or a shutdown (everything else).
type Reactor struct {
	loop       *system.Loop
	tick       time.Duration
	ctx        context.Context
	cancelFunc context.CancelFunc
	doneCh     chan struct{}
	signal     chan os.Signal
	err        error
	started    time.Time
}

func NewReactor(cfg *config.Config, signal chan os.Signal) (*Reactor, error) {
	layer, err := system.NewEpollLayer(cfg.Loop.MaxEvents)
	if err != nil {
		return nil, err
	}

	loop, err := system.NewLoop(layer,
		system.WithFifoPath(cfg.Wake.FifoPath),
		system.WithFifoMode(os.FileMode(cfg.Wake.FifoMode)))
	if err != nil {
		log.Logger.Error("Failed to open wake event", zap.Error(err))
		if cerr := layer.Close(); cerr != nil {
			log.Logger.Warn("Failed to close epoll", zap.Error(cerr))
		}
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reactor{
		loop:       loop,
		tick:       cfg.WaitTick(),
		ctx:        ctx,
		cancelFunc: cancel,
		doneCh:     make(chan struct{}),
		signal:     signal,
	}, nil
}

func (r *Reactor) Run() error {
	r.started = time.Now()
	go func() {
		defer close(r.doneCh)
		r.err = r.loop.Run(r.ctx, r.tick)
	}()
	defer log.Logger.Info("reactor closed")

	for {
		select {
		case <-r.doneCh:
			return r.err
		case sig := <-r.signal:
			if sig == syscall.SIGUSR1 {
				if err := r.loop.Post(r.report); err != nil {
					log.Logger.Warn("Failed to post status report", zap.Error(err))
				}
				continue
			}
			log.Logger.Info("signal received", zap.Stringer("signal", sig))
			r.cancelFunc()
			<-r.doneCh
			return r.err
		}
	}
}

// report runs on the loop goroutine.
func (r *Reactor) report() {
	log.Logger.Info("wake event status",
		zap.Stringer("backend", r.loop.Wake().Backend()),
		zap.Uint64("tasks", r.loop.Processed()),
		zap.Int("pending", r.loop.Pending()),
		zap.Duration("uptime", time.Since(r.started)))
}

// Post runs task on the loop goroutine.
func (r *Reactor) Post(task system.Task) error {
	return r.loop.Post(task)
}

func (r *Reactor) Close() error {
	r.cancelFunc()
	return r.loop.Close()
}
