//go:build linux
// +build linux

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/fzft/go-wake-event/system"
)

func main() {
	cfg, err := parseArgs(os.Args[1:], stdinIsTerminal(), os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	} else if err != nil {
		fmt.Fprintln(os.Stderr, "wakectl:", err)
		os.Exit(2)
	}

	target, err := system.OpenFifoNotifier(cfg.fifoPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wakectl:", err)
		os.Exit(1)
	}
	defer target.Close()

	cli := &Wakectl{config: cfg, out: os.Stdout, target: target}
	if err := cli.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "wakectl:", err)
		os.Exit(1)
	}
}
