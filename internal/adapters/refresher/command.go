package refresher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"channel_manager/internal/domain"
)

const ScriptName = "update_occupancy_from_ics"

// Command runs the per-unit executable units/<U>/update_occupancy_from_ics.
// Exit code 0 means the unit's external feeds were refreshed.
type Command struct {
	unitsRoot string
	timeout   time.Duration
}

func NewCommand(unitsRoot string, timeout time.Duration) *Command {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &Command{unitsRoot: unitsRoot, timeout: timeout}
}

func (c *Command) Refresh(ctx context.Context, unit string) domain.RefreshResult {
	start := time.Now()
	res := domain.RefreshResult{Refresher: "command"}
	defer func() { res.Duration = time.Since(start) }()

	script := filepath.Join(c.unitsRoot, unit, ScriptName)
	st, err := os.Stat(script)
	if err != nil || st.IsDir() || st.Mode().Perm()&0o111 == 0 {
		res.Outcome, res.Error = domain.RefreshUnavailable, "refresh script missing"
		return res
	}
	res.Attempted = true

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = filepath.Dir(script)
	var out bytes.Buffer
	cmd.Stdout, cmd.Stderr = &out, &out
	cmd.WaitDelay = 2 * time.Second

	err = cmd.Run()
	switch {
	case err == nil:
		res.Outcome = domain.RefreshOK
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Outcome, res.Error = domain.RefreshTimeout, "refresh script timed out"
	default:
		res.Outcome, res.Error = domain.RefreshError, err.Error()
		if t := tail(out.String(), 10); t != "" {
			res.Error += ": " + t
		}
	}
	log.Info().Str("unit", unit).Str("outcome", string(res.Outcome)).Dur("took", time.Since(start)).Msg("refresh script finished")
	return res
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
