// Package render maps a question and the learner's current answer to a
// view model. It holds no state.
package render

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// UnsupportedMessage is shown in place of a question of unknown type.
const UnsupportedMessage = "Unsupported question type"

// Kind tags the concrete View.
type Kind string

const (
	KindMultipleChoice Kind = "multiple-choice"
	KindTrueFalse      Kind = "true-false"
	KindShortAnswer    Kind = "short-answer"
	KindEssay          Kind = "essay"
	KindMatching       Kind = "matching"
	KindUnsupported    Kind = "unsupported"
)

// Mark annotates a choice in review mode.
type Mark string

const (
	MarkNone      Mark = ""
	MarkCorrect   Mark = "correct"
	MarkIncorrect Mark = "incorrect"
)

// View is implemented by every rendered question kind.
type View interface {
	Kind() Kind
	isView()
}

// Header is shared by every view.
type Header struct {
	QuestionID  uuid.UUID        `json:"question_id"`
	Type        Kind             `json:"type"`
	Content     string           `json:"content"`
	Points      int              `json:"points"`
	Difficulty  model.Difficulty `json:"difficulty"`
	Explanation string           `json:"explanation,omitempty"`
	Review      bool             `json:"review"`
}

// Choice is one exclusive option.
type Choice struct {
	Value    string `json:"value"`
	Selected bool   `json:"selected"`
	Mark     Mark   `json:"mark,omitempty"`
}

type MultipleChoiceView struct {
	Header
	Choices []Choice `json:"choices"`
}

type TrueFalseView struct {
	Header
	Choices []Choice `json:"choices"`
}

// ShortAnswerView is a single-line text input.
type ShortAnswerView struct {
	Header
	Value    string `json:"value"`
	Expected string `json:"expected,omitempty"`
	Mark     Mark   `json:"mark,omitempty"`
}

// EssayView is a multi-line text input. Essays are never auto-marked.
type EssayView struct {
	Header
	Value string `json:"value"`
}

// MatchSlot is one dropdown of a matching question.
type MatchSlot struct {
	Index    int      `json:"index"`
	Prompt   string   `json:"prompt"`
	Choices  []string `json:"choices"`
	Selected string   `json:"selected"`
	Expected string   `json:"expected,omitempty"`
	Mark     Mark     `json:"mark,omitempty"`
}

type MatchingView struct {
	Header
	Slots []MatchSlot `json:"slots"`
}

// UnsupportedView is the inert placeholder for unknown kinds.
type UnsupportedView struct {
	Header
	Message string `json:"message"`
}

func (MultipleChoiceView) Kind() Kind { return KindMultipleChoice }
func (TrueFalseView) Kind() Kind      { return KindTrueFalse }
func (ShortAnswerView) Kind() Kind    { return KindShortAnswer }
func (EssayView) Kind() Kind          { return KindEssay }
func (MatchingView) Kind() Kind       { return KindMatching }
func (UnsupportedView) Kind() Kind    { return KindUnsupported }

func (MultipleChoiceView) isView() {}
func (TrueFalseView) isView()      {}
func (ShortAnswerView) isView()    {}
func (EssayView) isView()          {}
func (MatchingView) isView()       {}
func (UnsupportedView) isView()    {}

// TrueFalseValues are the literal values of a true-false question.
var TrueFalseValues = []string{"true", "false"}

// Render builds the view of q with the given answer. When review is set,
// choices are marked against the expected answer and the explanation is
// included.
func Render(q model.Question, current model.Answer, review bool) View {
	h := Header{
		QuestionID: q.ID,
		Type:       Kind(q.Type),
		Content:    q.Content,
		Points:     q.Points,
		Difficulty: q.Difficulty,
		Review:     review,
	}
	if review {
		h.Explanation = q.Explanation
	}

	switch q.Type {
	case model.QuestionTypeMultipleChoice:
		return MultipleChoiceView{Header: h, Choices: choices(q.Options, q, current, review)}
	case model.QuestionTypeTrueFalse:
		return TrueFalseView{Header: h, Choices: choices(TrueFalseValues, q, current, review)}
	case model.QuestionTypeShortAnswer:
		v := ShortAnswerView{Header: h, Value: current.Text}
		if review {
			v.Expected = q.CorrectAnswer.Text
			v.Mark = markOf(q.IsCorrect(current))
		}
		return v
	case model.QuestionTypeEssay:
		return EssayView{Header: h, Value: current.Text}
	case model.QuestionTypeMatching:
		return MatchingView{Header: h, Slots: slots(q, current, review)}
	default:
		h.Type = KindUnsupported
		h.Explanation = ""
		return UnsupportedView{Header: h, Message: UnsupportedMessage}
	}
}

func choices(values []string, q model.Question, current model.Answer, review bool) []Choice {
	out := make([]Choice, 0, len(values))
	for _, v := range values {
		c := Choice{Value: v, Selected: !current.List && current.Text == v}
		if review {
			c.Mark = markOf(v == q.CorrectAnswer.Text)
		}
		out = append(out, c)
	}
	return out
}

func slots(q model.Question, current model.Answer, review bool) []MatchSlot {
	out := make([]MatchSlot, 0, len(q.Options))
	for i, prompt := range q.Options {
		s := MatchSlot{
			Index:    i,
			Prompt:   prompt,
			Choices:  q.Options,
			Selected: current.Slot(i),
		}
		if review {
			s.Expected = q.CorrectAnswer.Slot(i)
			s.Mark = markOf(s.Selected == s.Expected)
		}
		out = append(out, s)
	}
	return out
}

func markOf(ok bool) Mark {
	if ok {
		return MarkCorrect
	}
	return MarkIncorrect
}
