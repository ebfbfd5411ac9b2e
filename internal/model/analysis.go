package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Score struct {
	Correct    int     `json:"correct"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

type WrongAnswer struct {
	QuestionID    int    `json:"question_id"`
	Question      string `json:"question"`
	StudentAnswer string `json:"student_answer"`
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation"`
}

type UnansweredQuestion struct {
	QuestionID    int    `json:"question_id"`
	Question      string `json:"question"`
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation"`
}

type BehaviorAnalysis struct {
	Speed                  string `json:"speed"`
	Confidence             string `json:"confidence"`
	NavigationPattern      string `json:"navigation_pattern"`
	AnswerChanges          int    `json:"answer_changes"`
	AverageTimePerQuestion string `json:"average_time_per_question"`
	Details                string `json:"details"`
}

type CheatingSuspicion struct {
	Level       string   `json:"level"`
	Indicators  []string `json:"indicators"`
	Explanation string   `json:"explanation"`
}

// Analysis is the backend's post-submission report.
type Analysis struct {
	Score                   Score                `json:"score"`
	WrongAnswersExplanation []WrongAnswer        `json:"wrong_answers_explanation"`
	UnansweredExplanation   []UnansweredQuestion `json:"unanswered_explanation"`
	BehaviorAnalysis        BehaviorAnalysis     `json:"behavior_analysis"`
	CheatingSuspicion       CheatingSuspicion    `json:"cheating_suspicion"`
	Recommendations         []string             `json:"recommendations"`
	OverallSummary          string               `json:"overall_summary"`
}

// ErrNoAnalysis is returned by DecodeAnalysis for an absent payload.
var ErrNoAnalysis = errors.New("no analysis stored")

// DecodeAnalysis accepts the stored analysis either as a JSON object or as a
// JSON string containing the object.
func DecodeAnalysis(raw json.RawMessage) (*Analysis, error) {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == `""` {
		return nil, ErrNoAnalysis
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("decode analysis string: %w", err)
		}
		raw = json.RawMessage(inner)
	}

	var a Analysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return &a, nil
}
