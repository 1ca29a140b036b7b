package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/bintocher/mgc-audits-backend/internal/qualification"
	"github.com/bintocher/mgc-audits-backend/internal/workflow"
)

// =============================================================================
// Qualification Expiry Test Suite
// =============================================================================

type QualificationExpirySuite struct {
	suite.Suite
	quals    *qualification.InMemoryStore
	statuses *workflow.InMemoryStatusStore
	job      *QualificationExpiry

	active  *workflow.Status
	expired *workflow.Status
	now     time.Time
}

func TestQualificationExpirySuite(t *testing.T) {
	suite.Run(t, new(QualificationExpirySuite))
}

func (s *QualificationExpirySuite) SetupTest() {
	s.quals = qualification.NewInMemoryStore()
	s.statuses = workflow.NewInMemoryStatusStore()
	s.now = time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC)

	ctx := context.Background()
	s.active = &workflow.Status{
		Name: "Active", Code: "active", EntityType: workflow.EntityTypeQualification, IsInitial: true,
	}
	s.Require().NoError(s.statuses.Create(ctx, s.active))
	s.expired = &workflow.Status{
		Name: "Expired", Code: workflow.StatusCodeExpired, EntityType: workflow.EntityTypeQualification, IsFinal: true,
	}
	s.Require().NoError(s.statuses.Create(ctx, s.expired))

	var err error
	s.job, err = NewQualificationExpiry(s.quals, s.statuses, nil)
	s.Require().NoError(err)
	s.job.WithClock(func() time.Time { return s.now })
}

func (s *QualificationExpirySuite) addQualification(expiry time.Time, statusID uuid.UUID, active bool) *qualification.AuditorQualification {
	q := &qualification.AuditorQualification{
		UserID:     uuid.New(),
		Name:       "ISO 9001 Lead Auditor",
		StatusID:   statusID,
		ExpiryDate: expiry,
		Active:     active,
	}
	s.Require().NoError(s.quals.Create(context.Background(), q))
	return q
}

func (s *QualificationExpirySuite) TestRunOnce() {
	ctx := context.Background()

	overdue := s.addQualification(s.now.AddDate(0, 0, -1), s.active.ID, true)
	current := s.addQualification(s.now.AddDate(0, 6, 0), s.active.ID, true)
	inactive := s.addQualification(s.now.AddDate(0, 0, -30), s.active.ID, false)
	alreadyExpired := s.addQualification(s.now.AddDate(0, 0, -60), s.expired.ID, true)

	flipped, err := s.job.RunOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, flipped)

	got, err := s.quals.Get(ctx, overdue.ID)
	s.Require().NoError(err)
	s.Equal(s.expired.ID, got.StatusID)

	for _, untouched := range []*qualification.AuditorQualification{current, inactive} {
		got, err := s.quals.Get(ctx, untouched.ID)
		s.Require().NoError(err)
		s.Equal(s.active.ID, got.StatusID)
	}

	got, err = s.quals.Get(ctx, alreadyExpired.ID)
	s.Require().NoError(err)
	s.Equal(s.expired.ID, got.StatusID)
}

func (s *QualificationExpirySuite) TestRunOnceIsIdempotent() {
	ctx := context.Background()
	s.addQualification(s.now.AddDate(0, 0, -1), s.active.ID, true)

	flipped, err := s.job.RunOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, flipped)

	flipped, err = s.job.RunOnce(ctx)
	s.Require().NoError(err)
	s.Zero(flipped)
}

func (s *QualificationExpirySuite) TestMissingExpiredStatusFailsTheRun() {
	ctx := context.Background()
	statuses := workflow.NewInMemoryStatusStore()

	job, err := NewQualificationExpiry(s.quals, statuses, nil)
	s.Require().NoError(err)

	s.addQualification(s.now.AddDate(0, 0, -1), s.active.ID, true)

	_, err = job.RunOnce(ctx)
	s.Require().Error(err)
	s.Contains(err.Error(), "expired status is not configured")

	// Nothing was touched.
	overdue, err := s.quals.ListExpired(ctx, s.now, uuid.New())
	s.Require().NoError(err)
	s.Len(overdue, 1)
}
