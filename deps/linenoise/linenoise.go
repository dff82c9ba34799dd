package linenoise

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
)

// ErrAborted is returned by Prompt on Ctrl-C or end of input.
var ErrAborted = errors.New("aborted")

type LineNoise struct {
	*liner.State
}

// New puts the terminal in raw mode. Close restores it.
func New(completions []string) *LineNoise {
	ln := &LineNoise{liner.NewLiner()}
	ln.SetCtrlCAborts(true)
	if len(completions) > 0 {
		ln.SetCompleter(func(line string) (c []string) {
			for _, word := range completions {
				if strings.HasPrefix(word, strings.ToLower(line)) {
					c = append(c, word)
				}
			}
			return
		})
	}
	return ln
}

// Prompt reads one line and records non-empty lines in the history.
func (ln *LineNoise) Prompt(prompt string) (string, error) {
	line, err := ln.State.Prompt(prompt)
	if err != nil {
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return "", ErrAborted
		}
		return "", err
	}
	if strings.TrimSpace(line) != "" {
		ln.AppendHistory(line)
	}
	return line, nil
}

func (ln *LineNoise) HistoryLoad(filepath string) error {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}
	_, err = ln.ReadHistory(bytes.NewReader(content))
	return err
}

func (ln *LineNoise) HistorySave(filepath string) error {
	var buf bytes.Buffer
	_, err := ln.WriteHistory(&buf)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, buf.Bytes(), 0644)
}
