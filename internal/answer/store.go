package answer

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	ErrUnknownQuestion = errors.New("question is not part of this session")
	ErrShapeMismatch   = errors.New("answer shape does not match question type")
)

// Store holds in-progress responses keyed by question id.
type Store struct {
	mu     sync.RWMutex
	order  []uuid.UUID
	kinds  map[uuid.UUID]model.QuestionType
	values map[uuid.UUID]model.Answer
}

// NewStore initializes an empty answer for every question, preserving order.
func NewStore(questions []model.Question) *Store {
	s := &Store{
		order:  make([]uuid.UUID, 0, len(questions)),
		kinds:  make(map[uuid.UUID]model.QuestionType, len(questions)),
		values: make(map[uuid.UUID]model.Answer, len(questions)),
	}
	for _, q := range questions {
		s.order = append(s.order, q.ID)
		s.kinds[q.ID] = q.Type
		s.values[q.ID] = model.EmptyAnswerFor(q.Type)
	}
	return s
}

// Set overwrites the answer of one question.
func (s *Store) Set(questionID uuid.UUID, value model.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind, ok := s.kinds[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	if value.List != (kind == model.QuestionTypeMatching) {
		return ErrShapeMismatch
	}
	s.values[questionID] = value.Clone()
	return nil
}

// Get returns the stored answer.
func (s *Store) Get(questionID uuid.UUID) (model.Answer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[questionID]
	return v.Clone(), ok
}

// IsAnswered reports whether the stored value is non-empty.
func (s *Store) IsAnswered(questionID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[questionID]
	return ok && !v.IsEmpty()
}

// CompletedCount returns how many questions have a non-empty answer.
func (s *Store) CompletedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, v := range s.values {
		if !v.IsEmpty() {
			n++
		}
	}
	return n
}

// Len returns the number of questions tracked.
func (s *Store) Len() int {
	return len(s.order)
}

// Unanswered returns the ids of empty answers in question order.
func (s *Store) Unanswered() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []uuid.UUID
	for _, id := range s.order {
		if s.values[id].IsEmpty() {
			out = append(out, id)
		}
	}
	return out
}

// Records returns one answer record per question in question order.
func (s *Store) Records() []model.AnswerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AnswerRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, model.AnswerRecord{
			QuestionID: id,
			Answer:     s.values[id].Clone(),
		})
	}
	return out
}
