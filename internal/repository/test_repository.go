package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// TestRepository handles test definitions and their question lists.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

const testColumns = `t.id, t.title, t.description, t.created_by, t.time_limit, t.passing_score,
	t.randomize_questions, t.show_results, t.require_proctoring, t.start_date, t.end_date,
	t.attempts, t.created_at, t.updated_at,
	COALESCE(ARRAY(SELECT tq.question_id FROM test_questions tq WHERE tq.test_id = t.id ORDER BY tq.position), '{}')`

func scanTest(row interface{ Scan(...any) error }) (*model.Test, error) {
	t := &model.Test{}
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.CreatedBy, &t.TimeLimit, &t.PassingScore,
		&t.RandomizeQuestions, &t.ShowResults, &t.RequireProctoring, &t.StartDate, &t.EndDate,
		&t.Attempts, &t.CreatedAt, &t.UpdatedAt, &t.QuestionIDs,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetByID retrieves a test with its ordered question ids.
func (r *TestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	return scanTest(r.pool.QueryRow(ctx, `SELECT `+testColumns+` FROM tests t WHERE t.id = $1`, id))
}

// List retrieves every test, soonest start first. Tests without a window
// sort last.
func (r *TestRepository) List(ctx context.Context) ([]model.Test, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+testColumns+` FROM tests t ORDER BY t.start_date ASC NULLS LAST, t.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tests := []model.Test{}
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		tests = append(tests, *t)
	}
	return tests, rows.Err()
}

// ListIDs returns every test id; used to prewarm payload caches.
func (r *TestRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM tests`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// Create inserts a test and its question list in one transaction.
func (r *TestRepository) Create(ctx context.Context, t *model.Test) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO tests (title, description, created_by, time_limit, passing_score,
		                    randomize_questions, show_results, require_proctoring,
		                    start_date, end_date, attempts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at, updated_at`,
		t.Title, t.Description, t.CreatedBy, t.TimeLimit, t.PassingScore,
		t.RandomizeQuestions, t.ShowResults, t.RequireProctoring,
		t.StartDate, t.EndDate, t.Attempts,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert test: %w", err)
	}

	batch := &pgx.Batch{}
	for i, qid := range t.QuestionIDs {
		batch.Queue(`INSERT INTO test_questions (test_id, question_id, position) VALUES ($1, $2, $3)`, t.ID, qid, i)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert test questions: %w", err)
	}
	return tx.Commit(ctx)
}
