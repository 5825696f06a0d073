// Package main implements the coldstore command: the transfer service, the
// task process it starts for every task, and a few maintenance commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
)

const usage = `usage: coldstore <command> [flags]

commands:
  serve      run the task runner and the control API
  run-task   execute one task read from stdin (started by serve)
  migrate    run database migrations (up, down, status, version, redo, reset)
  enqueue    add a task to the queue
  vaults     list remote vaults
`

// command is one subcommand. It returns the process exit code.
type command func(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int

var commands = map[string]command{
	"serve":    serveCommand,
	"run-task": runTaskCommand,
	"migrate":  migrateCommand,
	"enqueue":  enqueueCommand,
	"vaults":   vaultsCommand,
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	return cmd(ctx, args[1:], stdin, stdout, stderr)
}

// newFlagSet returns a flag set with the shared -config flag.
func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("COLDSTORE_CONFIG"), "path to a YAML config file")
	return fs, configPath
}
