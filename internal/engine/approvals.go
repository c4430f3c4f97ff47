package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"stratline/internal/domain"
	"stratline/internal/events"
	"stratline/internal/repo"
)

// SubmitForReview creates a pending approval for an in-progress task and
// moves the task to review, both in one transaction. A task can carry at
// most one pending approval; a concurrent second submit gets ErrConflict.
func (e Engine) SubmitForReview(ctx context.Context, taskID, submittedBy, notes, actorID string) (domain.Approval, error) {
	if submittedBy == "" {
		return domain.Approval{}, invalidf("submitted_by", "required")
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Approval{}, err
	}
	if t.Status != domain.TaskInProgress {
		// A repeated submit finds the task already in review with its
		// pending approval still open; that is a conflict, not a bad
		// transition.
		if t.Status == domain.TaskReview {
			pending, err := e.Repo.HasPendingApproval(ctx, taskID)
			if err != nil {
				return domain.Approval{}, err
			}
			if pending {
				return domain.Approval{}, ErrConflict
			}
		}
		return domain.Approval{}, &InvalidTransitionError{From: t.Status, To: domain.TaskReview}
	}
	now := e.nowRFC3339()
	a := domain.Approval{
		ID:           uuid.New().String(),
		TaskID:       taskID,
		ReviewStatus: domain.ReviewPending,
		SubmittedBy:  submittedBy,
		SubmittedAt:  now,
		Notes:        optionalString(notes),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Approval{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertApproval(ctx, tx, a); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Approval{}, ErrConflict
		}
		return domain.Approval{}, err
	}
	ok, err := e.Repo.CompareAndSetTaskStatusTx(ctx, tx, taskID, domain.TaskInProgress, domain.TaskReview, now)
	if err != nil {
		return domain.Approval{}, err
	}
	if !ok {
		return domain.Approval{}, ErrConflict
	}
	if err := e.Events.Append(ctx, tx, events.ApprovalSubmitted, "approval", a.ID, actorID, events.EventPayload{
		"task_id":      taskID,
		"submitted_by": submittedBy,
	}); err != nil {
		return domain.Approval{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Approval{}, err
	}
	return a, nil
}

func (e Engine) GetApproval(ctx context.Context, id string) (domain.Approval, error) {
	return e.Repo.GetApproval(ctx, id)
}

// ListApprovals returns approvals newest first. Limit defaults to 50.
func (e Engine) ListApprovals(ctx context.Context, reviewStatus string, limit int) ([]domain.Approval, error) {
	switch reviewStatus {
	case "", domain.ReviewPending, domain.ReviewApproved, domain.ReviewRejected:
	default:
		return nil, invalidf("review_status", "unknown review status %q", reviewStatus)
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return e.Repo.ListApprovals(ctx, reviewStatus, limit)
}

// DecideApproval settles a pending approval and cascades to the task:
// approved moves the task to approved and stamps approved_at, rejected
// parks it in blocked. Deciding twice yields ErrAlreadyDecided; the first
// decision stands.
func (e Engine) DecideApproval(ctx context.Context, approvalID, outcome, reviewedBy, notes, actorID string) (domain.Approval, error) {
	if outcome != domain.ReviewApproved && outcome != domain.ReviewRejected {
		return domain.Approval{}, invalidf("outcome", "must be approved or rejected")
	}
	a, err := e.Repo.GetApproval(ctx, approvalID)
	if err != nil {
		return domain.Approval{}, err
	}
	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.DecideApproval(ctx, tx, approvalID, outcome, reviewedBy, now, notes)
	if err != nil {
		return a, err
	}
	if !ok {
		return a, ErrAlreadyDecided
	}
	target := domain.TaskApproved
	if outcome == domain.ReviewRejected {
		target = domain.TaskBlocked
	}
	moved, err := e.Repo.CompareAndSetTaskStatusTx(ctx, tx, a.TaskID, domain.TaskReview, target, now)
	if err != nil {
		return a, err
	}
	if !moved {
		return a, ErrConflict
	}
	var approvedAt *string
	if outcome == domain.ReviewApproved {
		approvedAt = &now
	}
	if err := e.Repo.StampTaskApproval(ctx, tx, a.TaskID, outcome, approvedAt); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, events.ApprovalDecided, "approval", a.ID, actorID, events.EventPayload{
		"task_id": a.TaskID,
		"outcome": outcome,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	a.ReviewStatus = outcome
	a.DecidedAt = &now
	a.ReviewedBy = optionalString(reviewedBy)
	if notes != "" {
		a.Notes = &notes
	}
	return a, nil
}
