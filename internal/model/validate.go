package model

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field constraints and the question/answer pairing:
// question IDs are unique and every question has exactly one reference answer.
func (q Quiz) Validate() error {
	if err := validatorInstance().Struct(q); err != nil {
		return err
	}

	seen := make(map[int64]bool, len(q.Questions))
	for _, qu := range q.Questions {
		if seen[qu.ID] {
			return fmt.Errorf("duplicate question id %d", qu.ID)
		}
		seen[qu.ID] = true
	}

	answered := make(map[int64]bool, len(q.Answers))
	for _, a := range q.Answers {
		if !seen[a.QuestionID] {
			return fmt.Errorf("reference answer for unknown question %d", a.QuestionID)
		}
		if answered[a.QuestionID] {
			return fmt.Errorf("duplicate reference answer for question %d", a.QuestionID)
		}
		answered[a.QuestionID] = true
	}
	for id := range seen {
		if !answered[id] {
			return fmt.Errorf("question %d has no reference answer", id)
		}
	}
	return nil
}
