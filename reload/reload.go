// Package reload tells the DNS server to pick up a rewritten zone file and
// verifies that it did.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"jabberwocky238/bindzone/internal/types"
)

// Trigger asks the DNS server to load zone. serial is the SOA serial that
// was just written, or 0 when the zone has no SOA record. Any error means
// the new file must not be kept.
type Trigger interface {
	Reload(ctx context.Context, zone string, serial uint32) error
}

// Func adapts a function to Trigger.
type Func func(ctx context.Context, zone string, serial uint32) error

// Reload calls f.
func (f Func) Reload(ctx context.Context, zone string, serial uint32) error {
	return f(ctx, zone, serial)
}

// Noop accepts every reload.
var Noop Trigger = Func(func(context.Context, string, uint32) error { return nil })

// Chain runs triggers in order and stops at the first failure.
type Chain []Trigger

// Reload runs every trigger in the chain.
func (c Chain) Reload(ctx context.Context, zone string, serial uint32) error {
	for _, t := range c {
		if err := t.Reload(ctx, zone, serial); err != nil {
			return err
		}
	}
	return nil
}

// Command runs an external program such as `rndc reload {zone}`. The
// placeholders {zone} and {serial} in any argument are substituted.
type Command struct {
	Args []string
}

// NewCommand returns a Command trigger. args[0] is the program.
func NewCommand(args ...string) *Command {
	return &Command{Args: args}
}

// Reload runs the command and reports a non-zero exit, or the context
// expiring, as ErrReloadFailed carrying the command's output.
func (c *Command) Reload(ctx context.Context, zone string, serial uint32) error {
	if len(c.Args) == 0 {
		return nil
	}
	args := make([]string, len(c.Args))
	r := strings.NewReplacer("{zone}", zone, "{serial}", strconv.FormatUint(uint64(serial), 10))
	for i, a := range c.Args {
		args[i] = r.Replace(a)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.WaitDelay = time.Second
	start := time.Now()
	output, err := cmd.CombinedOutput()
	out := strings.TrimSpace(string(output))
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s: %v", types.ErrReloadFailed, strings.Join(args, " "), ctx.Err())
		}
		if out == "" {
			return fmt.Errorf("%w: %s: %v", types.ErrReloadFailed, strings.Join(args, " "), err)
		}
		return fmt.Errorf("%w: %s: %v: %s", types.ErrReloadFailed, strings.Join(args, " "), err, out)
	}

	slog.Debug("reload command succeeded", "zone", zone, "command", args[0], "duration", time.Since(start), "output", out)
	return nil
}
