package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// TestStatus is a test's state from one student's point of view.
type TestStatus string

const (
	TestStatusUpcoming  TestStatus = "upcoming"
	TestStatusAvailable TestStatus = "available"
	TestStatusCompleted TestStatus = "completed"
	TestStatusMissed    TestStatus = "missed"
)

// DashboardTest is one card on the student dashboard.
type DashboardTest struct {
	model.TestSummary
	Status    TestStatus `json:"status"`
	AttemptID *uuid.UUID `json:"attempt_id,omitempty"`
	Score     *int       `json:"score,omitempty"`
}

// StudentDashboard is the student landing view.
type StudentDashboard struct {
	Tests        []DashboardTest    `json:"tests"`
	Counts       map[TestStatus]int `json:"counts"`
	AverageScore int                `json:"average_score"`
}

// DashboardService builds the student dashboard.
type DashboardService struct {
	tests    *repository.TestRepository
	attempts *repository.AttemptRepository
	now      func() time.Time
}

// NewDashboardService creates a new DashboardService.
func NewDashboardService(tests *repository.TestRepository, attempts *repository.AttemptRepository) *DashboardService {
	return &DashboardService{tests: tests, attempts: attempts, now: time.Now}
}

// Student returns every test with its status for userID.
func (s *DashboardService) Student(ctx context.Context, userID int) (*StudentDashboard, error) {
	tests, err := s.tests.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	latest, err := s.attempts.LatestByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return BuildDashboard(tests, latest, s.now()), nil
}

// BuildDashboard classifies tests against the user's latest attempts.
func BuildDashboard(tests []model.Test, latest map[uuid.UUID]repository.UserAttempt, now time.Time) *StudentDashboard {
	d := &StudentDashboard{
		Tests: make([]DashboardTest, 0, len(tests)),
		Counts: map[TestStatus]int{
			TestStatusUpcoming:  0,
			TestStatusAvailable: 0,
			TestStatusCompleted: 0,
			TestStatusMissed:    0,
		},
	}

	var scores []int
	for i := range tests {
		t := &tests[i]
		entry := DashboardTest{TestSummary: t.Summary()}

		attempt, hasAttempt := latest[t.ID]
		if hasAttempt {
			id := attempt.AttemptID
			entry.AttemptID = &id
		}

		switch {
		case hasAttempt && attempt.Completed:
			entry.Status = TestStatusCompleted
			entry.Score = attempt.Score
			if attempt.Score != nil {
				scores = append(scores, *attempt.Score)
			}
		default:
			switch t.AvailabilityAt(now) {
			case model.AvailabilityUpcoming:
				entry.Status = TestStatusUpcoming
			case model.AvailabilityClosed:
				entry.Status = TestStatusMissed
			default:
				entry.Status = TestStatusAvailable
			}
		}

		d.Counts[entry.Status]++
		d.Tests = append(d.Tests, entry)
	}

	d.AverageScore = averageScore(scores)
	return d
}

// averageScore is the rounded mean, 0 when there are no scores.
func averageScore(scores []int) int {
	if len(scores) == 0 {
		return 0
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return int(math.Round(float64(sum) / float64(len(scores))))
}
