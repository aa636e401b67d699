package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Answer is either a single string (multiple-choice, true-false, short-answer,
// essay) or an ordered list of strings (matching). It is used both for the
// learner's response and for a question's expected answer.
type Answer struct {
	Text   string
	Values []string
	List   bool
}

// TextAnswer builds a single-value answer.
func TextAnswer(s string) Answer {
	return Answer{Text: s}
}

// ListAnswer builds a positional answer.
func ListAnswer(values ...string) Answer {
	if values == nil {
		values = []string{}
	}
	return Answer{Values: values, List: true}
}

// EmptyAnswerFor returns the initial answer for a question type.
func EmptyAnswerFor(t QuestionType) Answer {
	if t == QuestionTypeMatching {
		return ListAnswer()
	}
	return TextAnswer("")
}

// IsEmpty reports whether the learner has not answered yet.
func (a Answer) IsEmpty() bool {
	if a.List {
		return len(a.Values) == 0
	}
	return strings.TrimSpace(a.Text) == ""
}

// Equal compares two answers exactly; list answers compare index-wise.
func (a Answer) Equal(b Answer) bool {
	if a.List != b.List {
		return false
	}
	if !a.List {
		return a.Text == b.Text
	}
	if len(a.Values) != len(b.Values) {
		return false
	}
	for i := range a.Values {
		if a.Values[i] != b.Values[i] {
			return false
		}
	}
	return true
}

// Slot returns the value at a list position, or "" when unset.
func (a Answer) Slot(i int) string {
	if i < 0 || i >= len(a.Values) {
		return ""
	}
	return a.Values[i]
}

// WithSlot returns a copy of a list answer with position i set to value.
// The list is padded with "" up to width.
func (a Answer) WithSlot(i int, value string, width int) Answer {
	n := width
	if len(a.Values) > n {
		n = len(a.Values)
	}
	if i >= n {
		n = i + 1
	}
	values := make([]string, n)
	copy(values, a.Values)
	values[i] = value
	return ListAnswer(values...)
}

// Clone returns a deep copy.
func (a Answer) Clone() Answer {
	if !a.List {
		return a
	}
	values := make([]string, len(a.Values))
	copy(values, a.Values)
	return ListAnswer(values...)
}

// MarshalJSON encodes a string or an array of strings.
func (a Answer) MarshalJSON() ([]byte, error) {
	if a.List {
		if a.Values == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.Values)
	}
	return json.Marshal(a.Text)
}

// UnmarshalJSON accepts a JSON string, an array of strings, or null.
func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*a = TextAnswer("")
		return nil
	case data[0] == '[':
		var values []string
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("decode answer list: %w", err)
		}
		*a = ListAnswer(values...)
		return nil
	default:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode answer: %w", err)
		}
		*a = TextAnswer(s)
		return nil
	}
}
