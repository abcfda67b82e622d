package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Commands understood by App.Run.
const (
	CommandRun    = "run"
	CommandRunAll = "run-all"
	CommandResume = "resume"
	CommandTasks  = "tasks"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Command  string
	TaskName string // run
	JobID    string // resume

	ConfigPath string // worker configuration, hcl
	ParamsPath string // job parameters, yaml

	LogFormat string
	LogLevel  string
}

// NewConfig validates a Config, canonicalizes the log settings and returns
// it.
func NewConfig(cfg Config) (*Config, error) {
	format, err := parseLogFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.LogFormat = format
	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	switch cfg.Command {
	case CommandRun:
		if cfg.TaskName == "" {
			return nil, errors.New("the run command requires a task name")
		}
	case CommandResume:
		// An empty JobID means "resume every incomplete job".
		if cfg.JobID != "" {
			if _, err := uuid.Parse(cfg.JobID); err != nil {
				return nil, fmt.Errorf("invalid job id %q: %w", cfg.JobID, err)
			}
		}
	case CommandRunAll, CommandTasks:
		// no extra fields
	case "":
		return nil, errors.New("Command is a required configuration field and cannot be empty")
	default:
		return nil, fmt.Errorf("unknown command %q", cfg.Command)
	}

	return &cfg, nil
}
