package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
)

// options are the global flags; every command embeds its own on top.
type options struct {
	Config string `short:"c" long:"config" env:"PINHARVEST_CONFIG_DIR" default:"./configs" description:"Directory holding config.yaml"`

	Collect collectCommand `command:"collect" description:"Scroll the listing and stage raw pins"`
	Clean   cleanCommand   `command:"clean" description:"Clean the raw staged file"`
	Load    loadCommand    `command:"load" description:"Upsert cleaned pins into the store and verify it"`
	Verify  verifyCommand  `command:"verify" description:"Print store statistics"`
	Run     runCommand     `command:"run" description:"Run collect, clean and load with retries"`
	History historyCommand `command:"history" description:"List recorded runs"`
}

// cli is what commands share once flags are parsed. Results go to stdout,
// logs to stderr.
type cli struct {
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer
	opts   *options
}

func newOptions(c *cli) *options {
	o := &options{}
	c.opts = o
	o.Collect.cli = c
	o.Clean.cli = c
	o.Load.cli = c
	o.Verify.cli = c
	o.Run.cli = c
	o.History.cli = c
	return o
}

// execute parses args and runs the selected command.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o := newOptions(&cli{ctx: ctx, stdout: stdout, stderr: stderr})
	_, err := flags.NewParser(o, flags.Default).ParseArgs(args)
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		// go-flags has already printed the error.
		stop()
		os.Exit(1)
	}
}
