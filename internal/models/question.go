package models

import "fmt"

// Question is a single multiple-choice item of a test
type Question struct {
	Ordinal int      `json:"ordinal"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

// ValidOption reports whether idx addresses one of the question's options
func (q *Question) ValidOption(idx int) bool {
	return idx >= 0 && idx < len(q.Options)
}

// TestDefinition is a fully loaded, immutable questionnaire
type TestDefinition struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Scoring   string     `json:"scoring"`
	Questions []Question `json:"questions"`
}

// Len returns the number of questions in the test
func (d *TestDefinition) Len() int {
	return len(d.Questions)
}

// Question returns the question with the given 1-based ordinal
func (d *TestDefinition) Question(ordinal int) (*Question, bool) {
	if ordinal < 1 || ordinal > len(d.Questions) {
		return nil, false
	}
	return &d.Questions[ordinal-1], true
}

// Validate checks the structural invariants of a definition:
// at least one question, contiguous ordinals from 1, two or more options each.
func (d *TestDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("test id is required")
	}
	if len(d.Questions) == 0 {
		return fmt.Errorf("test has no questions")
	}
	for i, q := range d.Questions {
		if q.Ordinal != i+1 {
			return fmt.Errorf("question %d has ordinal %d, expected %d", i+1, q.Ordinal, i+1)
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("question %d has %d options, need at least 2", q.Ordinal, len(q.Options))
		}
	}
	return nil
}

// TestInfo is the summary of a test returned by the admin API
type TestInfo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Scoring   string `json:"scoring"`
	Questions int    `json:"questions"`
}

// Info returns the summary view of the definition
func (d *TestDefinition) Info() TestInfo {
	return TestInfo{
		ID:        d.ID,
		Title:     d.Title,
		Scoring:   d.Scoring,
		Questions: d.Len(),
	}
}
