package sop

import (
	"bytes"
	"context"
	"net/http"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/shlex"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// maxOutput caps captured step output.
const maxOutput = 64 * 1024

// Task is a step ready to execute, with its command already rendered.
type Task struct {
	RunID   string
	StepID  string
	Command string
	Action  string
	With    map[string]any
}

// Executor performs a single step.
type Executor interface {
	Execute(ctx context.Context, task Task) (string, error)
}

// ShellExecutor runs commands locally and implements the built-in actions.
type ShellExecutor struct {
	Shell      string
	Dir        string
	HTTPClient *http.Client
}

// NewShellExecutor returns an executor using /bin/sh.
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{Shell: "/bin/sh", HTTPClient: http.DefaultClient}
}

// Execute implements Executor.
func (e *ShellExecutor) Execute(ctx context.Context, task Task) (string, error) {
	if task.Command != "" {
		return e.runCommand(ctx, task.Command)
	}

	switch task.Action {
	case ActionNoop:
		return "", nil
	case ActionSleep:
		return e.sleep(ctx, task.With)
	case ActionHTTPGet:
		return e.httpGet(ctx, task.With)
	default:
		return "", errors.Errorf("unknown action %q", task.Action)
	}
}

// shell syntax beyond plain words needs a real shell
const shellMeta = "|&;<>()$`\\\"'*?[]#~=%{}\n"

func (e *ShellExecutor) runCommand(ctx context.Context, command string) (string, error) {
	var cmd *exec.Cmd
	if strings.ContainsAny(command, shellMeta) {
		cmd = exec.CommandContext(ctx, e.Shell, "-c", command)
	} else {
		args, err := shlex.Split(command)
		if err != nil || len(args) == 0 {
			cmd = exec.CommandContext(ctx, e.Shell, "-c", command)
		} else {
			cmd = exec.CommandContext(ctx, args[0], args[1:]...)
		}
	}
	cmd.Dir = e.Dir
	killProcessGroup(cmd)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := truncate(out.String())
	if ctx.Err() == context.DeadlineExceeded {
		return output, errors.New("step timed out")
	}
	if err != nil {
		return output, errors.Wrap(err, "command failed")
	}
	return output, nil
}

type sleepParams struct {
	Duration time.Duration `mapstructure:"duration"`
}

func (e *ShellExecutor) sleep(ctx context.Context, with map[string]any) (string, error) {
	var p sleepParams
	if err := decodeWith(with, &p); err != nil {
		return "", err
	}
	if p.Duration <= 0 {
		return "", errors.New("sleep requires a positive duration")
	}

	timer := time.NewTimer(p.Duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), "sleep interrupted")
	case <-timer.C:
		return "slept " + p.Duration.String(), nil
	}
}

type httpGetParams struct {
	URL          string `mapstructure:"url"`
	ExpectStatus int    `mapstructure:"expect_status"`
}

func (e *ShellExecutor) httpGet(ctx context.Context, with map[string]any) (string, error) {
	var p httpGetParams
	if err := decodeWith(with, &p); err != nil {
		return "", err
	}
	if p.URL == "" {
		return "", errors.New("http_get requires url")
	}
	if p.ExpectStatus == 0 {
		p.ExpectStatus = http.StatusOK
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to build request")
	}
	client := e.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "GET %s", p.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != p.ExpectStatus {
		return resp.Status, errors.Errorf("GET %s: expected status %d, got %d", p.URL, p.ExpectStatus, resp.StatusCode)
	}
	return resp.Status, nil
}

func decodeWith(with map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create parameter decoder")
	}
	if err := decoder.Decode(with); err != nil {
		return errors.Wrap(err, "invalid step parameters")
	}
	return nil
}

func truncate(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	cut := maxOutput
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... (output truncated)"
}
