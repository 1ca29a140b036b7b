package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bintocher/mgc-audits-backend/internal/qualification"
	"github.com/bintocher/mgc-audits-backend/internal/workflow"
	"github.com/bintocher/mgc-audits-backend/pkg/sentinel"
)

// QualificationExpiry flips active auditor qualifications whose expiry date
// has passed into the expired workflow status. The target status is resolved
// by code on every run; a registry missing it fails the whole run rather
// than guessing.
type QualificationExpiry struct {
	quals    qualification.Store
	statuses workflow.StatusStore
	logger   *slog.Logger
	now      func() time.Time
}

func NewQualificationExpiry(quals qualification.Store, statuses workflow.StatusStore, logger *slog.Logger) (*QualificationExpiry, error) {
	if quals == nil || statuses == nil {
		return nil, fmt.Errorf("qualification store and status store are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QualificationExpiry{
		quals:    quals,
		statuses: statuses,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the time source for tests.
func (j *QualificationExpiry) WithClock(now func() time.Time) *QualificationExpiry {
	j.now = now
	return j
}

// RunOnce expires overdue qualifications and returns how many were flipped.
func (j *QualificationExpiry) RunOnce(ctx context.Context) (int, error) {
	expired, err := j.statuses.GetByCode(ctx, workflow.EntityTypeQualification, workflow.StatusCodeExpired)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return 0, fmt.Errorf("expired status is not configured for auditor qualifications")
		}
		return 0, fmt.Errorf("resolve expired status: %w", err)
	}

	overdue, err := j.quals.ListExpired(ctx, j.now(), expired.ID)
	if err != nil {
		return 0, fmt.Errorf("list expired qualifications: %w", err)
	}

	var flipped int
	for _, q := range overdue {
		if err := ctx.Err(); err != nil {
			return flipped, err
		}
		if err := j.quals.SetStatus(ctx, q.ID, expired.ID); err != nil {
			j.logger.ErrorContext(ctx, "failed to expire qualification",
				"qualification_id", q.ID, "error", err)
			continue
		}
		flipped++
	}

	if flipped > 0 {
		j.logger.InfoContext(ctx, "qualification expiry finished", "expired", flipped)
	}
	return flipped, nil
}
