package storage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"jabberwocky238/bindzone/internal/types"
	"jabberwocky238/bindzone/zonefile"
)

// Checker validates candidate zone text before it replaces the live file.
// Failures wrap ErrZoneCheckFailed.
type Checker interface {
	Check(ctx context.Context, data []byte, zone, path string) error
}

// BuiltinChecker parses the full zone grammar in process.
type BuiltinChecker struct{}

// Check runs zonefile.Check.
func (BuiltinChecker) Check(_ context.Context, data []byte, zone, path string) error {
	_, err := zonefile.Check(data, zone, path)
	return err
}

// CommandChecker runs an external checker such as
// `named-checkzone {zone} {file}` against a temporary copy of the
// candidate text.
type CommandChecker struct {
	Args []string
}

// Check writes data to a hidden file in the directory of path, so relative
// names in the zone resolve as they do for the live file, and runs the
// command on it.
func (c CommandChecker) Check(ctx context.Context, data []byte, zone, path string) error {
	if len(c.Args) == 0 {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".bindzone-check-*")
	if err != nil {
		return fmt.Errorf("create check file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write check file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close check file: %w", err)
	}

	r := strings.NewReplacer("{zone}", zone, "{file}", tmp.Name(), "{path}", path)
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = r.Replace(a)
	}
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %v: %s", types.ErrZoneCheckFailed, args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Checkers runs every checker in order.
type Checkers []Checker

// Check stops at the first failure.
func (cs Checkers) Check(ctx context.Context, data []byte, zone, path string) error {
	for _, c := range cs {
		if err := c.Check(ctx, data, zone, path); err != nil {
			return err
		}
	}
	return nil
}
