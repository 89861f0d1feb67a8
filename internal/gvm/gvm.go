// Package gvm drives a Greenbone manager through the gvm-cli bridge.
//
// Every call is two steps: Invoke runs the bridge with one GMP request document
// and returns the raw response text, then ExtractHandle (or one of the typed
// response parsers) pulls what it can out of that text. An *AdapterError means
// the bridge itself failed; a missing handle means it ran but returned nothing
// usable.
package gvm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/L1nMay/vulnorch/internal/config"
	"github.com/L1nMay/vulnorch/internal/logger"
)

// swapped in tests
var execCommandContext = exec.CommandContext

// AdapterError is a non-zero exit (or failed launch) of the bridge process.
type AdapterError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *AdapterError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("gvm %s failed (exit %d): %s", e.Command, e.ExitCode, msg)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Observer receives one call per bridge invocation attempt.
type Observer interface {
	ObserveCommand(command string, took time.Duration, err error)
}

type Client struct {
	path       string
	args       []string
	configFile string
	username   string
	password   string

	scanConfigID string
	scannerID    string

	timeout        time.Duration
	retries        int
	backoffInitial time.Duration

	observer Observer
}

func NewClient(cfg *config.Config) *Client {
	if cfg.Engine.Password != "" && cfg.Engine.ConfigFile == "" {
		logger.Warnf("engine.password is passed to gvm-cli on the command line; set engine.config_file instead")
	}
	return &Client{
		path:           cfg.Engine.CLIPath,
		args:           cfg.Engine.Args,
		configFile:     cfg.Engine.ConfigFile,
		username:       cfg.Engine.Username,
		password:       cfg.Engine.Password,
		scanConfigID:   cfg.Engine.ScanConfigID,
		scannerID:      cfg.Engine.ScannerID,
		timeout:        cfg.CommandTimeout(),
		retries:        cfg.Engine.Retries,
		backoffInitial: 500 * time.Millisecond,
	}
}

func (c *Client) SetObserver(o Observer) {
	c.observer = o
}

// Invoke sends one GMP document and returns the raw response. Bridge failures
// are retried with exponential backoff; context errors are not. Only
// repeatable requests (get_*, stop_task) go through Invoke; create_* and
// start_task use a single attempt.
func (c *Client) Invoke(ctx context.Context, payload string) (string, error) {
	var out string

	op := func() error {
		res, err := c.invokeOnce(ctx, payload)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			var ae *AdapterError
			if !errors.As(err, &ae) {
				return backoff.Permanent(err)
			}
			logger.Warnf("gvm %s attempt failed: %v", ae.Command, err)
			return err
		}
		out = res
		return nil
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if c.retries > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = c.backoffInitial
		eb.MaxElapsedTime = 0
		policy = backoff.WithMaxRetries(eb, uint64(c.retries))
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return "", err
	}
	return out, nil
}

func (c *Client) invokeOnce(parent context.Context, payload string) (string, error) {
	name := commandName(payload)

	ctx := parent
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, c.timeout)
		defer cancel()
	}

	args := make([]string, 0, len(c.args)+6)
	if c.configFile != "" {
		// credentials come from the [Auth] section of the gvm-tools config
		args = append(args, "--config", c.configFile)
	} else {
		if c.username != "" {
			args = append(args, "--gmp-username", c.username)
		}
		if c.password != "" {
			args = append(args, "--gmp-password", c.password)
		}
	}
	args = append(args, c.args...)
	args = append(args, "--xml", payload)

	logger.Debugf("Running gvm-cli: %s %s", c.path, name)

	cmd := execCommandContext(ctx, c.path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	if err != nil {
		if parent.Err() != nil {
			err = parent.Err()
		} else {
			code := -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
			// a hung bridge is a bridge failure, not a caller cancellation
			if ctx.Err() != nil {
				err = fmt.Errorf("timed out after %s: %w", c.timeout, ctx.Err())
			}
			err = &AdapterError{
				Command:  name,
				ExitCode: code,
				Stderr:   stderr.String(),
				Err:      err,
			}
		}
	}

	if c.observer != nil {
		c.observer.ObserveCommand(name, time.Since(started), err)
	}
	if err != nil {
		return "", err
	}
	return stdout.String(), nil
}

// commandName is the root element of a GMP request, e.g. "create_target".
func commandName(payload string) string {
	s := strings.TrimSpace(payload)
	s = strings.TrimPrefix(s, "<")
	end := strings.IndexAny(s, " />\t\n")
	if end <= 0 {
		return "unknown"
	}
	return s[:end]
}
