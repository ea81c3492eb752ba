package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/bootstrap"
	"github.com/Harsh-BH/gauntlet/internal/config"
	"github.com/Harsh-BH/gauntlet/internal/domain"
	"github.com/Harsh-BH/gauntlet/internal/orchestrator"
	"github.com/Harsh-BH/gauntlet/internal/pool"
	"github.com/Harsh-BH/gauntlet/internal/repository/sqlite"
	"github.com/Harsh-BH/gauntlet/internal/sandbox"
	"github.com/Harsh-BH/gauntlet/internal/terminal"
	"github.com/Harsh-BH/gauntlet/internal/wrapper"
)

var languageFlag = &cli.StringFlag{
	Name:    "language",
	Aliases: []string{"l"},
	Usage:   "source language; inferred from the file extension when omitted",
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "run a program once and print its output",
		ArgsUsage: "<source file | ->",
		Flags: []cli.Flag{
			languageFlag,
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "text passed on stdin"},
			&cli.DurationFlag{Name: "timeout", Usage: "wall-clock limit, overriding the language default"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			path, code, err := readSource(cmd.Args().First())
			if err != nil {
				return err
			}
			language, err := resolveLanguage(cmd.String("language"), path, env.profiles)
			if err != nil {
				return err
			}

			res, err := env.runner.Run(ctx, sandbox.Request{
				JobID:    "cli",
				Code:     code,
				Language: language,
				Input:    cmd.String("input"),
				Timeout:  cmd.Duration("timeout"),
			})
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			env.printer.Result(res)
			if !res.Success {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func testCommand() *cli.Command {
	return &cli.Command{
		Name:      "test",
		Usage:     "grade a program against JSON test cases through an in-process queue",
		ArgsUsage: "<source file | ->",
		Flags: []cli.Flag{
			languageFlag,
			&cli.StringFlag{Name: "cases", Aliases: []string{"c"}, Usage: "JSON file of [{input, output}]", Required: true},
			&cli.StringFlag{Name: "db", Usage: "SQLite job store path", Value: ":memory:"},
			&cli.IntFlag{Name: "workers", Usage: "concurrent sandbox runs", Value: 4},
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			path, code, err := readSource(cmd.Args().First())
			if err != nil {
				return err
			}
			language, err := resolveLanguage(cmd.String("language"), path, env.profiles)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(cmd.String("cases"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("read test cases: %v", err), 2)
			}
			cases, err := parseCases(data)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			store, err := sqlite.Open(cmd.String("db"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			defer store.Close()

			local := bootstrap.StartLocal(ctx, store, env.runner, env.profiles, env.wrappers, bootstrap.LocalOptions{
				Queue: bootstrap.QueueOptions(env.cfg.Queue),
				Pool:  pool.Options{Size: int(cmd.Int("workers")), PollInterval: env.cfg.Worker.PollInterval},
				Orchestrator: orchestrator.Options{
					PollInterval:    env.cfg.Orchestrator.PollInterval,
					MaxPollAttempts: env.cfg.Orchestrator.MaxPollAttempts,
				},
			}, env.logger)
			defer local.Stop()

			report, err := local.Orchestrator.ExecuteCodeTests(ctx, &domain.TestRequest{
				Code:      code,
				Language:  language,
				TestCases: cases,
			})
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			if cmd.Bool("json") {
				enc := json.NewEncoder(cmd.Root().Writer)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				env.printer.Report(report)
			}
			if !report.IsPassed {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func languagesCommand() *cli.Command {
	return &cli.Command{
		Name:  "languages",
		Usage: "list supported languages",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			wrappers := wrapper.Load(wrapper.NewRegistry(), wrapper.Builtin(), zap.NewNop())
			profiles := bootstrap.Profiles(cfg.Sandbox)
			newPrinter(cmd).Languages(profiles.Languages(), wrappers.HasWrapper)
			return nil
		},
	}
}

// env holds what every execution command needs.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	profiles sandbox.Profiles
	wrappers *wrapper.Registry
	runner   *sandbox.Runner
	printer  *terminal.Printer
	close    func()
}

func setup(cmd *cli.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Sandbox.Backend = cmd.Root().String("backend")

	logger := zap.NewNop()
	if cmd.Root().Bool("verbose") {
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}

	runner, closeRunner, err := bootstrap.NewRunner(cfg.Sandbox, logger)
	if err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}
	return &env{
		cfg:      cfg,
		logger:   logger,
		profiles: bootstrap.Profiles(cfg.Sandbox),
		wrappers: wrapper.Load(wrapper.NewRegistry(), wrapper.Builtin(), logger),
		runner:   runner,
		printer:  newPrinter(cmd),
		close: func() {
			closeRunner()
			_ = logger.Sync()
		},
	}, nil
}

func newPrinter(cmd *cli.Command) *terminal.Printer {
	return terminal.NewPrinter(cmd.Root().Writer, cmd.Root().Bool("no-color"))
}

// readSource reads path, or stdin when path is "-".
func readSource(path string) (string, string, error) {
	if path == "" {
		return "", "", cli.Exit("a source file is required (use - for stdin)", 2)
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", "", cli.Exit(fmt.Sprintf("read source: %v", err), 2)
	}
	return path, string(data), nil
}

// resolveLanguage prefers the explicit flag and falls back to the file extension.
func resolveLanguage(flag, path string, profiles sandbox.Profiles) (string, error) {
	if flag != "" {
		if _, ok := profiles.Lookup(flag); !ok {
			return "", cli.Exit((&domain.UnsupportedLanguageError{Language: flag, Supported: profiles.Languages()}).Error(), 2)
		}
		return flag, nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, name := range profiles.Languages() {
		if p, _ := profiles.Lookup(name); ext != "" && p.Extension == ext {
			return name, nil
		}
	}
	return "", cli.Exit("cannot infer the language; pass --language", 2)
}

// parseCases accepts a bare array of cases or an object with a testCases field.
func parseCases(data []byte) ([]domain.TestCase, error) {
	var cases []domain.TestCase
	if err := json.Unmarshal(data, &cases); err != nil {
		var wrapped struct {
			TestCases []domain.TestCase `json:"testCases"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("parse test cases: %w", err)
		}
		cases = wrapped.TestCases
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("parse test cases: no test cases found")
	}
	return cases, nil
}
