package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vk/taskgridgo/internal/ctxlog"
)

// Run executes the command selected by the provided configuration.
func (a *App) Run(ctx context.Context, appConfig *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "command", appConfig.Command)

	switch appConfig.Command {
	case CommandRun:
		return a.runTask(ctx, appConfig.TaskName)
	case CommandRunAll:
		return a.runAllTasks(ctx)
	case CommandResume:
		return a.resumeJob(ctx, appConfig.JobID)
	case CommandTasks:
		return a.listTasks()
	default:
		return fmt.Errorf("unknown command %q", appConfig.Command)
	}
}

func (a *App) runTask(ctx context.Context, name string) error {
	a.logger.Info("Starting job.", "task", name)
	clean, err := a.engine.RunTask(ctx, name, a.parameters)
	if err != nil {
		return fmt.Errorf("job failed: %w", err)
	}
	if !clean {
		return errors.New("job finished with task failures")
	}
	a.logger.Info("Job finished.", "task", name)
	return nil
}

func (a *App) runAllTasks(ctx context.Context) error {
	a.logger.Info("Scheduling and running all initial tasks.")
	if err := a.engine.RunAllTasks(ctx, a.parameters); err != nil {
		return fmt.Errorf("run-all finished with errors: %w", err)
	}
	a.logger.Info("All due tasks finished.")
	return nil
}

func (a *App) resumeJob(ctx context.Context, rawID string) error {
	if rawID == "" {
		a.logger.Info("Resuming all incomplete jobs.")
		if err := a.engine.ContinueAllJobs(ctx); err != nil {
			return fmt.Errorf("resume finished with errors: %w", err)
		}
		a.logger.Info("All incomplete jobs finished.")
		return nil
	}

	// Already validated by NewConfig.
	id := uuid.MustParse(rawID)

	a.logger.Info("Resuming job.", "job_id", id)
	clean, err := a.engine.ContinueJob(ctx, id)
	if err != nil {
		return fmt.Errorf("resume failed: %w", err)
	}
	if !clean {
		return errors.New("job finished with task failures")
	}
	a.logger.Info("Job finished.", "job_id", id)
	return nil
}

func (a *App) listTasks() error {
	for _, reg := range a.registry.Registrations() {
		desc := reg.Desc
		line := desc.Name
		if len(desc.DependsOn) > 0 {
			line += " depends_on=" + strings.Join(desc.DependsOn, ",")
		}
		if len(desc.Produces) > 0 {
			line += " produces=" + strings.Join(desc.Produces, ",")
		}
		if _, err := fmt.Fprintln(a.outW, line); err != nil {
			return err
		}
	}
	return nil
}
