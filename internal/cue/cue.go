// Package cue plays the activation cue fired on each accepted turn.
package cue

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync/atomic"
)

// Command plays the cue by running an external player command, for example
// ["aplay", "/usr/share/lapcounter/cue.wav"]. A Play arriving while the
// previous one is still running is skipped, not queued, so a burst of
// accepted turns never stacks up playback processes.
type Command struct {
	argv []string
	busy atomic.Bool

	// run is swapped out in tests.
	run func(ctx context.Context, argv []string) error
}

// NewCommand creates a cue that executes argv per Play.
func NewCommand(argv ...string) (*Command, error) {
	if len(argv) == 0 {
		return nil, errors.New("cue: command must not be empty")
	}
	return &Command{
		argv: argv,
		run: func(ctx context.Context, argv []string) error {
			return exec.CommandContext(ctx, argv[0], argv[1:]...).Run()
		},
	}, nil
}

// Play runs the player command and waits for it to finish. It returns nil
// without playing when the previous cue is still audible.
func (c *Command) Play(ctx context.Context) error {
	if !c.busy.CompareAndSwap(false, true) {
		return nil
	}
	defer c.busy.Store(false)
	if err := c.run(ctx, c.argv); err != nil {
		return fmt.Errorf("cue: play: %w", err)
	}
	return nil
}
