package model

import (
	"time"
)

// Question is one multiple-choice item as delivered to the student.
type Question struct {
	ID      int      `json:"id" validate:"required"`
	Text    string   `json:"question" validate:"required"`
	Options []string `json:"options" validate:"required,min=1"`
}

// ExamDefinition is the immutable exam payload loaded at session start.
type ExamDefinition struct {
	ID        string        `json:"id" validate:"required"`
	Title     string        `json:"title"`
	Duration  time.Duration `json:"duration"`
	Questions []Question    `json:"questions" validate:"required,min=1,dive"`
}

// Question returns the question with the given id.
func (d *ExamDefinition) Question(id int) (Question, bool) {
	for _, q := range d.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// TotalSeconds returns the time budget in whole seconds.
func (d *ExamDefinition) TotalSeconds() int {
	return int(d.Duration / time.Second)
}
