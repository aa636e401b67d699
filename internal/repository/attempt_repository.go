package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AttemptRepository handles test attempts, their answers and proctor flags.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts the attempt row when a session is loaded. Answers, flags
// and the final score arrive later through the worker queues.
func (r *AttemptRepository) Create(ctx context.Context, a *model.TestAttempt) error {
	order := a.QuestionOrder
	if order == nil {
		order = []uuid.UUID{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO test_attempts (id, test_id, user_id, start_time, question_order)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.TestID, a.UserID, a.StartTime, order,
	)
	return err
}

// CountByUserAndTest returns how many attempts a user has started on a test.
func (r *AttemptRepository) CountByUserAndTest(ctx context.Context, userID int, testID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM test_attempts WHERE user_id = $1 AND test_id = $2`,
		userID, testID,
	).Scan(&n)
	return n, err
}

// GetByID retrieves an attempt with its answers and flags.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.TestAttempt, error) {
	a := &model.TestAttempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, test_id, user_id, start_time, end_time, score, completed, question_order
		 FROM test_attempts WHERE id = $1`, id,
	).Scan(&a.ID, &a.TestID, &a.UserID, &a.StartTime, &a.EndTime, &a.Score, &a.Completed, &a.QuestionOrder)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT question_id, answer, is_correct, points, manually_graded, feedback
		 FROM attempt_answers WHERE attempt_id = $1`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	defer rows.Close()

	a.Answers = []model.AnswerRecord{}
	for rows.Next() {
		var rec model.AnswerRecord
		if err := rows.Scan(&rec.QuestionID, &rec.Answer, &rec.IsCorrect, &rec.Points, &rec.ManuallyGraded, &rec.Feedback); err != nil {
			return nil, err
		}
		a.Answers = append(a.Answers, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	flags, err := r.ListFlags(ctx, id)
	if err != nil {
		return nil, err
	}
	a.ProctorFlags = flags
	return a, nil
}

// ListFlags returns an attempt's proctor flags in the order they occurred.
func (r *AttemptRepository) ListFlags(ctx context.Context, attemptID uuid.UUID) ([]model.ProctorFlag, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT flagged_at, type, evidence FROM proctor_flags
		 WHERE attempt_id = $1 ORDER BY flagged_at, id`, attemptID,
	)
	if err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}
	defer rows.Close()

	flags := []model.ProctorFlag{}
	for rows.Next() {
		var f model.ProctorFlag
		if err := rows.Scan(&f.Timestamp, &f.Type, &f.Evidence); err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

// ListByTest retrieves a page of attempts for one test, newest first.
func (r *AttemptRepository) ListByTest(ctx context.Context, testID uuid.UUID, page, perPage int) ([]model.AttemptListItem, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM test_attempts WHERE test_id = $1`, testID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.user_id, u.name, u.email, a.start_time, a.end_time, a.score, a.completed,
		        (SELECT COUNT(*) FROM proctor_flags f WHERE f.attempt_id = a.id)
		 FROM test_attempts a
		 JOIN users u ON u.id = a.user_id
		 WHERE a.test_id = $1
		 ORDER BY a.start_time DESC
		 LIMIT $2 OFFSET $3`,
		testID, perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []model.AttemptListItem{}
	for rows.Next() {
		var it model.AttemptListItem
		if err := rows.Scan(&it.ID, &it.UserID, &it.UserName, &it.Email, &it.StartTime, &it.EndTime,
			&it.Score, &it.Completed, &it.FlagCount); err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

// UserAttempt is the latest attempt of a user on a test, for the dashboard.
type UserAttempt struct {
	TestID    uuid.UUID
	AttemptID uuid.UUID
	Score     *int
	Completed bool
	EndTime   *time.Time
}

// LatestByUser returns the most recent attempt per test for a user.
func (r *AttemptRepository) LatestByUser(ctx context.Context, userID int) (map[uuid.UUID]UserAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (test_id) test_id, id, score, completed, end_time
		 FROM test_attempts
		 WHERE user_id = $1
		 ORDER BY test_id, completed DESC, start_time DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]UserAttempt)
	for rows.Next() {
		var ua UserAttempt
		if err := rows.Scan(&ua.TestID, &ua.AttemptID, &ua.Score, &ua.Completed, &ua.EndTime); err != nil {
			return nil, err
		}
		out[ua.TestID] = ua
	}
	return out, rows.Err()
}

// SaveGrade writes one manually graded answer and the recomputed score.
func (r *AttemptRepository) SaveGrade(ctx context.Context, attemptID uuid.UUID, rec model.AnswerRecord, score int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, answer, is_correct, points, manually_graded, feedback)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET is_correct = EXCLUDED.is_correct,
		     points = EXCLUDED.points,
		     manually_graded = EXCLUDED.manually_graded,
		     feedback = EXCLUDED.feedback,
		     updated_at = NOW()`,
		attemptID, rec.QuestionID, rec.Answer, rec.IsCorrect, rec.Points, rec.ManuallyGraded, rec.Feedback,
	); err != nil {
		return fmt.Errorf("save answer grade: %w", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE test_attempts SET score = $1 WHERE id = $2`, score, attemptID)
	if err != nil {
		return fmt.Errorf("save score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return tx.Commit(ctx)
}
