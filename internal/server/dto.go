package server

import (
	"stratline/internal/domain"
)

// Request payloads

type CreateTaskRequest struct {
	ID            *string `json:"id,omitempty"`
	Title         string  `json:"title"`
	Description   *string `json:"description,omitempty"`
	Category      string  `json:"category"`
	Priority      *int    `json:"priority,omitempty" minimum:"1" maximum:"5"`
	AssignedAgent *string `json:"assigned_agent,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"status" enum:"backlog,in_progress,review,approved,done,blocked"`
}

type ProgressRequest struct {
	Progress      int      `json:"progress" minimum:"0" maximum:"100"`
	QualityScore  *float64 `json:"quality_score,omitempty"`
	AssignedAgent *string  `json:"assigned_agent,omitempty"`
}

type SubmitReviewRequest struct {
	SubmittedBy string `json:"submitted_by"`
	Notes       string `json:"notes,omitempty"`
}

type DecideRequest struct {
	Outcome    string `json:"outcome" enum:"approved,rejected"`
	ReviewedBy string `json:"reviewed_by,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type ExecuteRequest struct {
	Limit  int  `json:"limit,omitempty" minimum:"0"`
	DryRun bool `json:"dry_run,omitempty"`
}

type StartLogRequest struct {
	AgentName string   `json:"agent_name,omitempty"`
	TaskIDs   []string `json:"task_ids,omitempty"`
}

type FinishLogRequest struct {
	Status     string  `json:"status" enum:"success,failed"`
	Output     string  `json:"output,omitempty"`
	Error      string  `json:"error,omitempty"`
	APICost    float64 `json:"api_cost,omitempty"`
	TokensUsed int64   `json:"tokens_used,omitempty"`
}

type CreateMilestoneRequest struct {
	Name       string `json:"name"`
	TargetDate string `json:"target_date,omitempty" format:"date"`
	TaskCount  int    `json:"task_count,omitempty"`
}

type MilestoneStatusRequest struct {
	Status string `json:"status" enum:"planned,in_progress,completed"`
}

type AgentSkillRequest struct {
	Active          bool    `json:"active"`
	TasksCompleted  int     `json:"tasks_completed"`
	AvgQualityScore float64 `json:"avg_quality_score"`
	SuccessRate     float64 `json:"success_rate"`
}

// Response payloads. Domain structs already carry the wire shape; the list
// wrappers keep empty collections as [] rather than null.

type taskList struct {
	Items []domain.Task `json:"items"`
}

type approvalList struct {
	Items []domain.Approval `json:"items"`
}

type logList struct {
	Items []domain.ExecutionLog `json:"items"`
}

type milestoneList struct {
	Items []domain.Milestone `json:"items"`
}

type agentList struct {
	Items []domain.AgentSkill `json:"items"`
}

func taskItems(in []domain.Task) taskList {
	if in == nil {
		in = []domain.Task{}
	}
	return taskList{Items: in}
}

func approvalItems(in []domain.Approval) approvalList {
	if in == nil {
		in = []domain.Approval{}
	}
	return approvalList{Items: in}
}

func logItems(in []domain.ExecutionLog) logList {
	if in == nil {
		in = []domain.ExecutionLog{}
	}
	return logList{Items: in}
}

func milestoneItems(in []domain.Milestone) milestoneList {
	if in == nil {
		in = []domain.Milestone{}
	}
	return milestoneList{Items: in}
}

func agentItems(in []domain.AgentSkill) agentList {
	if in == nil {
		in = []domain.AgentSkill{}
	}
	return agentList{Items: in}
}
