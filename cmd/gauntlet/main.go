package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if coder, ok := err.(cli.ExitCoder); ok {
		return coder.ExitCode()
	}
	return 2
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "gauntlet",
		Usage:   "run untrusted code and grade it against test cases",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "sandbox backend: local or docker",
				Value:   "local",
				Sources: cli.EnvVars("SANDBOX_BACKEND"),
			},
			&cli.BoolFlag{Name: "no-color", Usage: "disable coloured output"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log pipeline activity to stderr"},
		},
		Commands: []*cli.Command{
			runCommand(),
			testCommand(),
			languagesCommand(),
		},
	}
}
