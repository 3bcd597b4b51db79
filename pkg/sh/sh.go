package sh

import (
	"context"
	"io"
	"strings"
)

var shell Shell = shx{}

// GetShell .
func GetShell() Shell {
	return shell
}

// Shell .
type Shell interface {
	Copy(src, dest string) error
	Move(src, dest string) error
	Remove(fpth string) error
	Exec(ctx context.Context, name string, args ...string) error
	ExecInOut(ctx context.Context, env map[string]string, stdin io.Reader, name string, args ...string) ([]byte, []byte, error)
	Run(ctx context.Context, cmdline string) (*Result, error)
}

// Result carries one finished invocation: the command line, its exit
// status and the captured output. A non-zero ExitCode is data, not an
// error; only a failure to spawn surfaces as error from Run.
type Result struct {
	Cmdline  string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Succeeded .
func (r *Result) Succeeded() bool {
	return r.ExitCode == 0
}

// StdoutText .
func (r *Result) StdoutText() string {
	return strings.TrimRight(string(r.Stdout), "\n")
}

// StderrText .
func (r *Result) StderrText() string {
	return strings.TrimRight(string(r.Stderr), "\n")
}

// Remove .
func Remove(fpth string) error {
	return shell.Remove(fpth)
}

// Move .
func Move(src, dest string) error {
	return shell.Move(src, dest)
}

// Copy .
func Copy(src, dest string) error {
	return shell.Copy(src, dest)
}

// ExecInOut .
func ExecInOut(ctx context.Context, env map[string]string, stdin io.Reader, name string, args ...string) ([]byte, []byte, error) {
	return shell.ExecInOut(ctx, env, stdin, name, args...)
}

// ExecContext .
func ExecContext(ctx context.Context, name string, args ...string) error {
	return shell.Exec(ctx, name, args...)
}

// Run .
func Run(ctx context.Context, cmdline string) (*Result, error) {
	return shell.Run(ctx, cmdline)
}

// NewMockShell .
func NewMockShell(s Shell) func() {
	var old = shell

	shell = s

	return func() {
		shell = old
	}
}
