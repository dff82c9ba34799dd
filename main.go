//go:build linux
// +build linux

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fzft/go-wake-event/config"
	"github.com/fzft/go-wake-event/log"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := log.InitLogger(cfg.Log.Level); err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer log.Logger.Sync()

	if _, err := maxprocs.Set(maxprocs.Logger(log.Logger.Sugar().Infof)); err != nil {
		log.Logger.Warn("Failed to set GOMAXPROCS", zap.Error(err))
	}

	if err := NewServer(cfg).Run(); err != nil {
		log.Logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
