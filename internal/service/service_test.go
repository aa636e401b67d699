package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

func TestBuildDashboard(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	tests := []model.Test{
		{ID: uuid.New(), Title: "open"},
		{ID: uuid.New(), Title: "upcoming", StartDate: &tomorrow},
		{ID: uuid.New(), Title: "missed", StartDate: &past, EndDate: &yesterday},
		{ID: uuid.New(), Title: "done a"},
		{ID: uuid.New(), Title: "done b", StartDate: &past, EndDate: &yesterday},
		{ID: uuid.New(), Title: "in progress"},
	}
	s80, s85 := 80, 85
	latest := map[uuid.UUID]repository.UserAttempt{
		tests[3].ID: {TestID: tests[3].ID, AttemptID: uuid.New(), Score: &s80, Completed: true},
		tests[4].ID: {TestID: tests[4].ID, AttemptID: uuid.New(), Score: &s85, Completed: true},
		tests[5].ID: {TestID: tests[5].ID, AttemptID: uuid.New()},
	}

	d := BuildDashboard(tests, latest, now)

	want := []TestStatus{
		TestStatusAvailable,
		TestStatusUpcoming,
		TestStatusMissed,
		TestStatusCompleted,
		TestStatusCompleted,
		TestStatusAvailable,
	}
	for i, w := range want {
		if got := d.Tests[i].Status; got != w {
			t.Fatalf("%s status: want=%s got=%s", tests[i].Title, w, got)
		}
	}
	if d.Counts[TestStatusCompleted] != 2 || d.Counts[TestStatusAvailable] != 2 {
		t.Fatalf("counts: %+v", d.Counts)
	}
	if d.AverageScore != 83 {
		t.Fatalf("average: want=83 got=%d", d.AverageScore)
	}
	if d.Tests[5].AttemptID == nil || d.Tests[5].Score != nil {
		t.Fatalf("in-progress entry: %+v", d.Tests[5])
	}
}

func TestAverageScoreEmpty(t *testing.T) {
	if got := averageScore(nil); got != 0 {
		t.Fatalf("want=0 got=%d", got)
	}
}

type stubHandle struct{ id string }

func (h stubHandle) ID() string     { return h.id }
func (h stubHandle) Release() error { return nil }

func TestReportAcquirer(t *testing.T) {
	opened := 0
	open := func(context.Context) (proctor.Handle, error) {
		opened++
		return stubHandle{id: "stream-1"}, nil
	}

	h, err := ReportAcquirer(model.CapabilityReport{Granted: true, Device: "cam"}, open).Acquire(context.Background())
	if err != nil || h.ID() != "stream-1" || opened != 1 {
		t.Fatalf("granted: handle=%v err=%v opened=%d", h, err, opened)
	}

	_, err = ReportAcquirer(model.CapabilityReport{Error: "NotAllowedError"}, open).Acquire(context.Background())
	if err == nil || err.Error() != "NotAllowedError" {
		t.Fatalf("denied: want=NotAllowedError got=%v", err)
	}

	_, err = ReportAcquirer(model.CapabilityReport{}, open).Acquire(context.Background())
	if err == nil || err.Error() != "permission denied" {
		t.Fatalf("denied without message: got=%v", err)
	}
	if opened != 1 {
		t.Fatalf("denied reports must not open streams: opened=%d", opened)
	}

	boom := errors.New("bucket offline")
	_, err = ReportAcquirer(model.CapabilityReport{Granted: true}, func(context.Context) (proctor.Handle, error) {
		return nil, boom
	}).Acquire(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("open failure: want=%v got=%v", boom, err)
	}
}

func TestPayloadSourceFiltersQuestions(t *testing.T) {
	q1, q2 := model.Question{ID: uuid.New()}, model.Question{ID: uuid.New()}
	src := payloadSource{payload: &model.TestPayload{
		Test:      model.Test{ID: uuid.New()},
		Questions: []model.Question{q1, q2},
	}}

	if _, err := src.FetchTest(context.Background(), uuid.New()); !errors.Is(err, ErrTestNotFound) {
		t.Fatalf("foreign test: want=%v got=%v", ErrTestNotFound, err)
	}
	got, err := src.FetchQuestions(context.Background(), []uuid.UUID{q2.ID})
	if err != nil || len(got) != 1 || got[0].ID != q2.ID {
		t.Fatalf("questions: %+v err=%v", got, err)
	}
}

func TestAutosaveTTLOutlivesTimeLimit(t *testing.T) {
	cases := []struct {
		limit int
		want  time.Duration
	}{
		{limit: 30, want: 30*time.Minute + autosaveMargin},
		{limit: 0, want: autosaveMargin},
		{limit: -5, want: autosaveMargin},
	}
	for _, tc := range cases {
		if got := autosaveTTL(tc.limit); got != tc.want {
			t.Fatalf("autosaveTTL(%d): want=%v got=%v", tc.limit, tc.want, got)
		}
	}
}
