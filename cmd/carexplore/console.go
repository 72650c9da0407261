package main

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// keyDriver is the part of a session the console steers.
type keyDriver interface {
	KeyDown(raw string) bool
	KeyUp(raw string) bool
	RequestReset()
}

// consoleState turns typed commands into key transitions. Terminals do not
// report key releases, so "+w" holds, "-w" releases and a bare "w" toggles.
// "reset" requests a reset and "stop" releases everything.
type consoleState struct {
	driver keyDriver
	held   map[string]bool
}

func newConsoleState(driver keyDriver) *consoleState {
	return &consoleState{driver: driver, held: make(map[string]bool)}
}

func (c *consoleState) apply(line string) {
	for _, tok := range strings.Fields(strings.ToLower(line)) {
		switch {
		case tok == "reset":
			c.driver.RequestReset()
		case tok == "stop":
			c.releaseAll()
		case strings.HasPrefix(tok, "+") && len(tok) > 1:
			c.press(tok[1:])
		case strings.HasPrefix(tok, "-") && len(tok) > 1:
			c.release(tok[1:])
		case c.held[tok]:
			c.release(tok)
		default:
			c.press(tok)
		}
	}
}

func (c *consoleState) press(key string) {
	c.held[key] = true
	c.driver.KeyDown(key)
}

func (c *consoleState) release(key string) {
	delete(c.held, key)
	c.driver.KeyUp(key)
}

func (c *consoleState) releaseAll() {
	for key := range c.held {
		c.release(key)
	}
}

// readConsole applies commands from r until it ends or ctx is done.
func readConsole(ctx context.Context, r io.Reader, driver keyDriver) error {
	state := newConsoleState(driver)
	defer state.releaseAll()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		errc <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-errc
			}
			state.apply(line)
		}
	}
}
