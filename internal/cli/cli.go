package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/taskgridgo/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("taskgridgo", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
TaskGridGo - An event-driven task dependency and scheduling engine.

Usage:
  taskgridgo [options] <command> [arguments]

Commands:
  run <task>       Schedule and run one task plus every task it can trigger.
  run-all          Schedule and run all registered initial tasks.
  resume [job-id]  Continue an interrupted job, or all incomplete jobs.
  tasks            List the registered task descriptors.

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "", "Path to the worker configuration file (.hcl).")
	paramsFlag := flagSet.String("params", "", "Path to a YAML file with job parameters.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if flagSet.NArg() == 0 {
		slog.Debug("No command provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	command := flagSet.Arg(0)
	cfg := app.Config{
		Command:    command,
		ConfigPath: *configFlag,
		ParamsPath: *paramsFlag,
		LogFormat:  *logFormatFlag,
		LogLevel:   *logLevelFlag,
	}

	switch command {
	case app.CommandRun:
		if flagSet.NArg() < 2 {
			return nil, false, &ExitError{Code: 2, Message: "run requires a task name"}
		}
		cfg.TaskName = flagSet.Arg(1)
	case app.CommandResume:
		// Without a job id, resume sweeps every incomplete job.
		if flagSet.NArg() >= 2 {
			cfg.JobID = flagSet.Arg(1)
		}
	case app.CommandRunAll, app.CommandTasks:
		// no arguments
	default:
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", command)}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "command", config.Command)
	return config, false, nil
}
