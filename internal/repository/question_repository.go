package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// GetByIDs retrieves the questions named by ids. Missing ids are skipped;
// callers resolve order and completeness against the test definition.
func (r *QuestionRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, type, content, options, correct_answer, difficulty, points,
		        explanation, category, tags
		 FROM questions WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := make([]model.Question, 0, len(ids))
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Type, &q.Content, &q.Options, &q.CorrectAnswer, &q.Difficulty,
			&q.Points, &q.Explanation, &q.Category, &q.Tags); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Create inserts a new question.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	options := q.Options
	if options == nil {
		options = []string{}
	}
	tags := q.Tags
	if tags == nil {
		tags = []string{}
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (type, content, options, correct_answer, difficulty, points,
		                        explanation, category, tags)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		q.Type, q.Content, options, q.CorrectAnswer, q.Difficulty, q.Points,
		q.Explanation, q.Category, tags,
	).Scan(&q.ID)
}
