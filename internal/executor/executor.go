package executor

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Executor runs short-lived tool invocations (probes, version checks) to completion.
type Executor struct {
	output io.Writer
}

func NewExecutor(output io.Writer) *Executor {
	if output == nil {
		output = io.Discard
	}

	return &Executor{output: output}
}

// Run executes command and returns its standard output. Standard error is copied to the
// executor output and attached to the returned error on failure.
func (e *Executor) Run(ctx context.Context, command *Cmd) ([]byte, error) {
	log.WithField("cmd", command.String()).Debug("exec")

	start := time.Now()

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, command.Binary, command.args...)
	cmd.Dir = command.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = io.MultiWriter(&stderr, e.output)
	cmd.Env = append(os.Environ(), command.envs...)

	err := cmd.Run()

	log.WithFields(log.Fields{
		"binary":   command.Binary,
		"duration": time.Since(start).String(),
	}).Debug("exec done")

	if err != nil {
		return stdout.Bytes(), errors.Wrapf(err, "%s: %s", command.Binary, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

type Cmd struct {
	Binary string
	Dir    string
	args   []string
	envs   []string
}

func (c *Cmd) Add(args ...string) *Cmd {
	c.args = append(c.args, args...)
	return c
}

func (c *Cmd) Env(env string) *Cmd {
	c.envs = append(c.envs, env)
	return c
}

func (c *Cmd) Command() []string {
	return c.args
}

func (c *Cmd) String() string {
	return strings.TrimSpace(c.Binary + " " + strings.Join(c.args, " "))
}
