// Package runtime executes gene validation commands through a syntactic
// allow-list. The list rejects shell-injection shapes (substitution,
// chaining, redirection) but is not a sandbox: a permitted program still
// runs in the ambient process environment.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrNotAllowed marks a command rejected by the allow-list.
var ErrNotAllowed = errors.New("command not allowed")

// Timeout bounds the wall-clock time of a single command.
const Timeout = 60 * time.Second

// trustedPrograms are the only program names a command may start with.
var trustedPrograms = map[string]bool{
	"php":      true,
	"composer": true,
	"phpunit":  true,
	"psalm":    true,
	"phpstan":  true,
	"git":      true,
	"ls":       true,
	"cat":      true,
	"grep":     true,
	"find":     true,
	"node":     true,
	"npm":      true,
	"go":       true,
	"make":     true,
}

// shellMeta are rejected outside quoted substrings.
var shellMeta = []string{";", "&&", "||", "|", ">", "<", "$"}

// Result captures one command run. A non-zero ExitCode is data, not an
// error; callers decide whether it downgrades their outcome.
type Result struct {
	Command  string
	Output   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Allowed reports whether the command passes the allow-list: a trusted
// leading program, no substitution syntax, and no shell metacharacters
// outside quoted substrings.
func Allowed(command string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty command", ErrNotAllowed)
	}
	if !trustedPrograms[fields[0]] {
		return fmt.Errorf("%w: %q is not a trusted program", ErrNotAllowed, fields[0])
	}
	if strings.Contains(command, "`") || strings.Contains(command, "$(") {
		return fmt.Errorf("%w: substitution syntax", ErrNotAllowed)
	}
	bare := stripQuoted(command)
	for _, meta := range shellMeta {
		if strings.Contains(bare, meta) {
			return fmt.Errorf("%w: shell metacharacter %q", ErrNotAllowed, meta)
		}
	}
	return nil
}

// Run executes an allow-listed command with stdin closed and combined
// output captured. The returned error covers rejection and launch
// failures only; command failure and timeout land in the Result.
func Run(ctx context.Context, command string) (Result, error) {
	res := Result{Command: command}
	if err := Allowed(command); err != nil {
		return res, err
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	args := splitArgs(command)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	start := time.Now()
	out, err := cmd.CombinedOutput()
	res.Duration = time.Since(start)
	res.Output = string(out)

	if ctx.Err() != nil {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("run %q: %w", args[0], err)
	}
	return res, nil
}

// stripQuoted removes single- and double-quoted spans so metacharacter
// checks only see the parts the shell would interpret.
func stripQuoted(s string) string {
	var b strings.Builder
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// splitArgs tokenizes a command, honoring quotes, without invoking a
// shell.
func splitArgs(s string) []string {
	var args []string
	var cur strings.Builder
	var quote byte
	inToken := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '"' || c == '\'':
			quote = c
			inToken = true
		case c == ' ' || c == '\t':
			if inToken {
				args = append(args, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteByte(c)
			inToken = true
		}
	}
	if inToken {
		args = append(args, cur.String())
	}
	return args
}
