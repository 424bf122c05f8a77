// Package driver opens one SSH session per device and runs a fixed list
// of commands against it, returning raw (unredacted) output plus a
// verbatim session transcript. It never logs — callers own logging, so
// the same driver works from the Executor in production or from a test
// harness without double-logging.
package driver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/netraven-io/netraven-core/pkg/model"
)

// Config tunes connection behavior, matching the worker.* and ssh.*
// configuration surface.
type Config struct {
	ConnectTimeout      time.Duration
	AllowLegacyKEX      bool
	LegacyKEXAlgorithms []string
	LegacyMACs          []string

	// DialRetries/DialRetryBackoff retry the dial+handshake step alone
	// (worker.retry_attempts / worker.retry_backoff), distinct from the
	// Dispatcher's per-device retry, which re-selects a credential and
	// re-invokes the whole job module.
	DialRetries      int
	DialRetryBackoff time.Duration
}

// DefaultConfig supplies a conservative dial timeout for a
// management-plane SSH session.
func DefaultConfig() Config {
	return Config{ConnectTimeout: 10 * time.Second}
}

// Command is one command to run, with an optional per-command timeout
// override (falls back to the platform table's default).
type Command struct {
	Text    string
	Timeout time.Duration
}

// Result carries per-command output plus the verbatim session
// transcript (every command and its output, concatenated in order).
type Result struct {
	Output      map[string]string
	SessionLog  string
}

// Driver runs commands over SSH against one device at a time.
type Driver struct {
	cfg Config
}

// New creates a Driver with the given Config.
func New(cfg Config) *Driver {
	return &Driver{cfg: cfg}
}

// RunCommands opens one SSH session to device.IPAddress:device.Port
// using credential.Username/credential's decrypted password, executes
// commands in order, and returns their output plus a session transcript.
//
// Typed errors: *AuthError, *UnreachableError, *CommandError,
// *TimeoutError, *SessionError.
func (d *Driver) RunCommands(ctx context.Context, device model.Device, password string, credential model.Credential, commands []Command) (Result, error) {
	addr := device.Addr()

	clientCfg := &ssh.ClientConfig{
		User:            credential.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.cfg.ConnectTimeout,
	}
	if d.cfg.AllowLegacyKEX {
		if len(d.cfg.LegacyKEXAlgorithms) > 0 {
			clientCfg.Config.KeyExchanges = append(clientCfg.Config.KeyExchanges, d.cfg.LegacyKEXAlgorithms...)
		}
		if len(d.cfg.LegacyMACs) > 0 {
			clientCfg.Config.MACs = append(clientCfg.Config.MACs, d.cfg.LegacyMACs...)
		}
	}

	client, dialErr := d.dialWithRetry(ctx, addr, clientCfg)
	if dialErr != nil {
		return Result{}, dialErr
	}
	defer client.Close()

	out := make(map[string]string, len(commands))
	var transcript strings.Builder

	for _, cmd := range commands {
		timeout := cmd.Timeout
		if timeout == 0 {
			timeout = DefaultCommandTimeout
		}
		output, err := runOneCommand(client, cmd.Text, timeout)
		transcript.WriteString(fmt.Sprintf("$ %s\n%s\n", cmd.Text, output))
		if err != nil {
			if err == errCommandTimeout {
				return Result{Output: out, SessionLog: transcript.String()}, &TimeoutError{Device: addr, Stage: cmd.Text, Err: err}
			}
			return Result{Output: out, SessionLog: transcript.String()}, &CommandError{Device: addr, Command: cmd.Text, Err: err}
		}
		out[cmd.Text] = output
	}

	return Result{Output: out, SessionLog: transcript.String()}, nil
}

// dialWithRetry dials and performs the SSH handshake, retrying only the
// transient-unreachable case up to DialRetries times. An auth or
// legacy-algorithm failure is never retried — another attempt would
// fail the same way.
func (d *Driver) dialWithRetry(ctx context.Context, addr string, clientCfg *ssh.ClientConfig) (*ssh.Client, error) {
	attempts := d.cfg.DialRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		dialer := net.Dialer{Timeout: d.cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, &TimeoutError{Device: addr, Stage: "connect", Err: ctxErr}
			}
			last = &UnreachableError{Device: addr, Err: err}
		} else {
			sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
			if err != nil {
				conn.Close()
				if isAuthFailure(err) {
					return nil, &AuthError{Device: addr, Err: err}
				}
				if isLegacyAlgoFailure(err) {
					return nil, &SessionError{Device: addr, Err: err}
				}
				last = &UnreachableError{Device: addr, Err: err}
			} else {
				return ssh.NewClient(sshConn, chans, reqs), nil
			}
		}

		if attempt == attempts {
			break
		}
		select {
		case <-time.After(d.cfg.DialRetryBackoff):
		case <-ctx.Done():
			return nil, &TimeoutError{Device: addr, Stage: "connect", Err: ctx.Err()}
		}
	}
	return nil, last
}

func runOneCommand(client *ssh.Client, command string, timeout time.Duration) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	type execResult struct {
		out []byte
		err error
	}
	done := make(chan execResult, 1)
	go func() {
		out, err := session.CombinedOutput(command)
		done <- execResult{out: out, err: err}
	}()

	select {
	case r := <-done:
		return string(r.out), r.err
	case <-time.After(timeout):
		session.Signal(ssh.SIGKILL)
		return "", errCommandTimeout
	}
}

var errCommandTimeout = fmt.Errorf("command timed out")

func isAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate") ||
		strings.Contains(err.Error(), "permission denied")
}

func isLegacyAlgoFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no common algorithm") || strings.Contains(msg, "key exchange")
}
