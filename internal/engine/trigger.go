package engine

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"stratline/internal/config"
	"stratline/internal/events"
	"stratline/internal/repo"
)

// ExecutionRequest is the outcome of an execution trigger. The service does
// not run agents itself; it acknowledges the request and tells the external
// runner when to come back.
type ExecutionRequest struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	EligibleTasks int    `json:"eligible_tasks"`
	Limit         int    `json:"limit"`
	NextCheck     string `json:"next_check" format:"date-time"`
}

// ScheduleInfo describes the execution cadence and current backlog.
type ScheduleInfo struct {
	Cron          string `json:"cron,omitempty"`
	IntervalHours int    `json:"interval_hours,omitempty"`
	NextCheck     string `json:"next_check" format:"date-time"`
	EligibleTasks int    `json:"eligible_tasks"`
	LastRunAt     string `json:"last_run_at,omitempty" format:"date-time"`
}

// checkOrchestratorKey compares the presented shared secret against the
// configured one. Bypass mode skips the check entirely.
func (e Engine) checkOrchestratorKey(presented string) error {
	if e.Config != nil && e.Config.Auth.Mode == config.AuthBypass {
		return nil
	}
	if e.OrchestratorKey == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(e.OrchestratorKey)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// nextCheck computes when the external runner should call again, from the
// cron spec when present, otherwise the interval fallback.
func (e Engine) nextCheck(now time.Time) (time.Time, error) {
	if e.Config != nil && e.Config.Schedule.Cron != "" {
		sched, err := cron.ParseStandard(e.Config.Schedule.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("schedule cron: %w", err)
		}
		return sched.Next(now), nil
	}
	hours := 6
	if e.Config != nil && e.Config.Schedule.IntervalHours > 0 {
		hours = e.Config.Schedule.IntervalHours
	}
	return now.Add(time.Duration(hours) * time.Hour), nil
}

func (e Engine) enforceRateLimit(ctx context.Context, now time.Time) error {
	if e.Config == nil || !e.Config.RateLimit.Enabled {
		return nil
	}
	window := time.Duration(e.Config.RateLimit.WindowMinutes) * time.Minute
	windowStart := now.Truncate(window).UTC().Format(time.RFC3339)
	count, err := e.Repo.IncrementRateCounter(ctx, "execute", windowStart)
	if err != nil {
		return err
	}
	if count > e.Config.RateLimit.MaxRequests {
		return ErrRateLimited
	}
	return nil
}

// RequestExecution acknowledges an execution trigger from the external
// runner. The presented key must match the orchestrator shared secret; an
// unauthorized call is rejected before the rate counter is touched. A dry run
// answers with the same counts without recording the request.
func (e Engine) RequestExecution(ctx context.Context, presentedKey string, limit int, actorID string, dryRun bool) (ExecutionRequest, error) {
	if err := e.checkOrchestratorKey(presentedKey); err != nil {
		return ExecutionRequest{}, err
	}
	now := e.now().UTC()
	if err := e.enforceRateLimit(ctx, now); err != nil {
		return ExecutionRequest{}, err
	}
	if e.Config == nil {
		return ExecutionRequest{}, fmt.Errorf("config not loaded")
	}
	if limit <= 0 {
		limit = e.Config.Execution.DefaultLimit
	}
	if limit > e.Config.Execution.MaxLimit {
		limit = e.Config.Execution.MaxLimit
	}
	eligible, err := e.Repo.CountEligibleTasks(ctx)
	if err != nil {
		return ExecutionRequest{}, err
	}
	if eligible > limit {
		eligible = limit
	}
	next, err := e.nextCheck(now)
	if err != nil {
		return ExecutionRequest{}, err
	}
	if !dryRun {
		if err := e.Events.Append(ctx, nil, events.ExecutionRequested, "execution", "", actorID, events.EventPayload{
			"eligible_tasks": eligible,
			"limit":          limit,
		}); err != nil {
			return ExecutionRequest{}, err
		}
	}
	msg := fmt.Sprintf("%d task(s) eligible for execution", eligible)
	if eligible == 0 {
		msg = "no tasks eligible for execution"
	}
	return ExecutionRequest{
		Status:        "accepted",
		Message:       msg,
		EligibleTasks: eligible,
		Limit:         limit,
		NextCheck:     next.Format(time.RFC3339),
	}, nil
}

// ScheduleStatus reports the execution cadence. It requires the same shared
// secret as RequestExecution but has no side effects.
func (e Engine) ScheduleStatus(ctx context.Context, presentedKey string) (ScheduleInfo, error) {
	if err := e.checkOrchestratorKey(presentedKey); err != nil {
		return ScheduleInfo{}, err
	}
	now := e.now().UTC()
	next, err := e.nextCheck(now)
	if err != nil {
		return ScheduleInfo{}, err
	}
	eligible, err := e.Repo.CountEligibleTasks(ctx)
	if err != nil {
		return ScheduleInfo{}, err
	}
	info := ScheduleInfo{
		NextCheck:     next.Format(time.RFC3339),
		EligibleTasks: eligible,
	}
	if e.Config != nil {
		info.Cron = e.Config.Schedule.Cron
		info.IntervalHours = e.Config.Schedule.IntervalHours
	}
	logs, err := e.Repo.ListExecutionLogs(ctx, repo.LogFilters{Limit: 1})
	if err != nil {
		return ScheduleInfo{}, err
	}
	if len(logs) > 0 {
		info.LastRunAt = logs[0].StartedAt
	}
	return info, nil
}
