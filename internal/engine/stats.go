package engine

import (
	"context"
	"fmt"
	"strconv"

	"stratline/internal/domain"
)

// TaskStats is the status breakdown of the task board. Backlog is derived
// as the remainder, so tasks in states this build does not know about still
// land somewhere visible.
type TaskStats struct {
	Total      int     `json:"total"`
	Backlog    int     `json:"backlog"`
	InProgress int     `json:"in_progress"`
	Review     int     `json:"review"`
	Approved   int     `json:"approved"`
	Done       int     `json:"done"`
	Blocked    int     `json:"blocked"`
	AvgQuality float64 `json:"avg_quality"`
}

func (e Engine) TaskStats(ctx context.Context) (TaskStats, error) {
	counts, err := e.Repo.CountTasksByStatus(ctx)
	if err != nil {
		return TaskStats{}, err
	}
	var s TaskStats
	for _, n := range counts {
		s.Total += n
	}
	s.InProgress = counts[domain.TaskInProgress]
	s.Review = counts[domain.TaskReview]
	s.Approved = counts[domain.TaskApproved]
	s.Done = counts[domain.TaskDone]
	s.Blocked = counts[domain.TaskBlocked]
	s.Backlog = s.Total - s.InProgress - s.Review - s.Approved - s.Done - s.Blocked
	if s.Backlog < 0 {
		s.Backlog = 0
	}
	scored, sum, err := e.Repo.TaskQuality(ctx)
	if err != nil {
		return TaskStats{}, err
	}
	denom := scored
	if denom < 1 {
		denom = 1
	}
	s.AvgQuality = sum / float64(denom)
	return s, nil
}

// ApprovalStats is the review queue breakdown.
type ApprovalStats struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

func (e Engine) ApprovalStats(ctx context.Context) (ApprovalStats, error) {
	counts, err := e.Repo.CountApprovalsByStatus(ctx)
	if err != nil {
		return ApprovalStats{}, err
	}
	return ApprovalStats{
		Pending:  counts[domain.ReviewPending],
		Approved: counts[domain.ReviewApproved],
		Rejected: counts[domain.ReviewRejected],
	}, nil
}

// Stats is the combined dashboard payload.
type Stats struct {
	Tasks     TaskStats           `json:"tasks"`
	Approvals ApprovalStats       `json:"approvals"`
	Agents    []domain.AgentSkill `json:"agents,omitempty"`
}

func (e Engine) Stats(ctx context.Context) (Stats, error) {
	tasks, err := e.TaskStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	approvals, err := e.ApprovalStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	agents, err := e.Repo.ListAgentSkills(ctx, true)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Tasks: tasks, Approvals: approvals, Agents: agents}, nil
}

// Summary is the wide progress report used by the dashboard and CLI.
type Summary struct {
	Tasks           TaskStats      `json:"tasks"`
	Approvals       ApprovalStats  `json:"approvals"`
	Categories      map[string]int `json:"categories"`
	Priorities      map[string]int `json:"priorities"`
	Milestones      map[string]int `json:"milestones"`
	AvgProgress     float64        `json:"avg_progress"`
	ExecutionRuns   int            `json:"execution_runs"`
	SuccessRate     float64        `json:"success_rate"`
	TotalAPICost    float64        `json:"total_api_cost"`
	TotalTokensUsed int64          `json:"total_tokens_used"`
	Recommendations []string       `json:"recommendations"`
}

func (e Engine) Summarize(ctx context.Context) (Summary, error) {
	var s Summary
	var err error
	if s.Tasks, err = e.TaskStats(ctx); err != nil {
		return s, err
	}
	if s.Approvals, err = e.ApprovalStats(ctx); err != nil {
		return s, err
	}
	if s.Categories, err = e.Repo.CountTasksByCategory(ctx); err != nil {
		return s, err
	}
	byPriority, err := e.Repo.CountTasksByPriority(ctx)
	if err != nil {
		return s, err
	}
	s.Priorities = make(map[string]int, len(byPriority))
	for p, n := range byPriority {
		s.Priorities[strconv.Itoa(p)] = n
	}
	if s.Milestones, err = e.Repo.CountMilestonesByStatus(ctx); err != nil {
		return s, err
	}
	if s.AvgProgress, err = e.Repo.AverageTaskProgress(ctx); err != nil {
		return s, err
	}
	runs, succeeded, failed, cost, tokens, err := e.Repo.ExecutionTotals(ctx)
	if err != nil {
		return s, err
	}
	s.ExecutionRuns = runs
	s.TotalAPICost = cost
	s.TotalTokensUsed = tokens
	if settled := succeeded + failed; settled > 0 {
		s.SuccessRate = float64(succeeded) / float64(settled)
	}
	s.Recommendations = recommendations(s)
	return s, nil
}

// recommendations derives short operator hints from the aggregates. Kept
// deliberately simple: thresholds, not models.
func recommendations(s Summary) []string {
	var recs []string
	if s.Approvals.Pending > 0 {
		recs = append(recs, fmt.Sprintf("%d approval(s) waiting for review", s.Approvals.Pending))
	}
	if s.Tasks.Blocked > 0 {
		recs = append(recs, fmt.Sprintf("%d blocked task(s) need attention", s.Tasks.Blocked))
	}
	if s.Tasks.Total > 0 && s.Tasks.Backlog == s.Tasks.Total {
		recs = append(recs, "all tasks still in backlog; trigger an execution run")
	}
	if s.ExecutionRuns > 0 && s.SuccessRate < 0.5 {
		recs = append(recs, "execution success rate below 50%; inspect recent failures")
	}
	if s.Tasks.AvgQuality > 0 && s.Tasks.AvgQuality < 0.8 {
		recs = append(recs, "average quality score below 0.8; consider tightening review")
	}
	if len(recs) == 0 {
		recs = append(recs, "pipeline healthy; no action needed")
	}
	return recs
}
