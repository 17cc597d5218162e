// Package console reads operator commands from standard input and queues
// them for the session loop, which drains the queue once per tick.
package console

import (
	"bufio"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

const queueSize = 64

// Console is a multiple-producer, single-consumer command queue fed by a
// line reader.
type Console struct {
	log  logrus.FieldLogger
	cmds chan string
}

// New creates a console queue.
func New(log logrus.FieldLogger) *Console {
	return &Console{
		log:  log,
		cmds: make(chan string, queueSize),
	}
}

// Commands exposes the queue for the session to drain.
func (c *Console) Commands() <-chan string { return c.cmds }

// Push queues a command as if it had been typed. Used for signal-triggered
// shutdown.
func (c *Console) Push(cmd string) {
	select {
	case c.cmds <- cmd:
	default:
		c.log.WithField("cmd", cmd).Warn("console queue full, dropping command")
	}
}

// Run reads lines from r until EOF, queueing each non-empty line. Intended
// to run on its own goroutine with r = os.Stdin.
func (c *Console) Run(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.Push(line)
	}
	if err := scanner.Err(); err != nil {
		c.log.WithError(err).Warn("console read failed")
	}
}
