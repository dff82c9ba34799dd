//go:build linux
// +build linux

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fzft/go-wake-event/deps/linenoise"
	"github.com/fzft/go-wake-event/system"
	"github.com/mattn/go-isatty"
)

const (
	WakectlHisFileEnv     = "WAKECTL_HISTFILE"
	WakectlHisFileDefault = ".wakectl_history"
)

var commandNames = []string{"notify", "help", "quit", "exit"}

type notifier interface {
	Notify() error
	Close() error
}

type WakectlCfg struct {
	fifoPath    string
	count       int
	interval    time.Duration
	interactive bool
}

type Wakectl struct {
	config *WakectlCfg
	out    io.Writer
	target notifier
	sent   int
}

func usage(out io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(out, "wakectl: wake a wakeeventd built with the wakefifo tag\n\n")
	fmt.Fprintf(out, "Usage: wakectl [OPTIONS]\n")
	fs.SetOutput(out)
	fs.PrintDefaults()
	fmt.Fprintf(out, "\nWithout -n and with a terminal on stdin an interactive prompt is started.\n")
}

func parseArgs(args []string, stdinIsTTY bool, stderr io.Writer) (*WakectlCfg, error) {
	cfg := &WakectlCfg{}
	fs := flag.NewFlagSet("wakectl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.fifoPath, "fifo", system.DefaultFifoPath, "path of the wake event fifo")
	fs.IntVar(&cfg.count, "n", 0, "number of wakes to send, then exit")
	fs.DurationVar(&cfg.interval, "i", 0, "pause between wakes when -n is used")

	if err := fs.Parse(args); err != nil {
		usage(stderr, fs)
		return nil, err
	}
	if fs.NArg() > 0 {
		usage(stderr, fs)
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if cfg.count < 0 {
		return nil, fmt.Errorf("-n must not be negative, got %d", cfg.count)
	}
	if cfg.interval < 0 {
		return nil, fmt.Errorf("-i must not be negative, got %s", cfg.interval)
	}

	cfg.interactive = cfg.count == 0 && stdinIsTTY
	if cfg.count == 0 && !cfg.interactive {
		cfg.count = 1
	}
	return cfg, nil
}

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (c *Wakectl) Run() error {
	if c.config.interactive {
		return c.repl()
	}
	return c.send(c.config.count, c.config.interval)
}

func (c *Wakectl) send(count int, interval time.Duration) error {
	for i := 0; i < count; i++ {
		if i > 0 && interval > 0 {
			time.Sleep(interval)
		}
		if err := c.target.Notify(); err != nil {
			return err
		}
		c.sent++
	}
	return nil
}

func historyFile() string {
	if path := os.Getenv(WakectlHisFileEnv); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + string(os.PathSeparator) + WakectlHisFileDefault
}

func (c *Wakectl) repl() error {
	line := linenoise.New(commandNames)
	defer line.Close()

	history := historyFile()
	if history != "" {
		// a missing history file is normal on first use
		_ = line.HistoryLoad(history)
		defer line.HistorySave(history)
	}

	prompt := fmt.Sprintf("wakectl %s> ", c.config.fifoPath)
	for {
		input, err := line.Prompt(prompt)
		if errors.Is(err, linenoise.ErrAborted) {
			return nil
		} else if err != nil {
			return err
		}

		quit, err := c.execute(input)
		if err != nil {
			fmt.Fprintf(c.out, "(error) %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// execute runs one interactive command. An empty line sends one wake.
func (c *Wakectl) execute(input string) (quit bool, err error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		fields = []string{"notify"}
	}

	switch strings.ToLower(fields[0]) {
	case "notify":
		count := 1
		if len(fields) > 1 {
			count, err = strconv.Atoi(fields[1])
			if err != nil || count <= 0 {
				return false, fmt.Errorf("invalid count %q", fields[1])
			}
		}
		if err := c.send(count, 0); err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "(ok) %d sent, %d total\n", count, c.sent)
	case "help":
		fmt.Fprintln(c.out, "notify [n]   send n wakes (default 1, also on an empty line)")
		fmt.Fprintln(c.out, "quit         leave")
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q, try help", fields[0])
	}
	return false, nil
}
