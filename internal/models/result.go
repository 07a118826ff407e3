package models

import "time"

// ClusterScore is a named sub-scale sum
type ClusterScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Score is the outcome of scoring a completed answer sequence
type Score struct {
	Total    int            `json:"total"`
	Clusters []ClusterScore `json:"clusters,omitempty"`
	Category string         `json:"category"`
}

// ResultRecord is an append-only record of a completed assessment
type ResultRecord struct {
	ID        string         `json:"id"`
	UserID    int64          `json:"user_id"`
	TestID    string         `json:"test_id"`
	Timestamp time.Time      `json:"timestamp"`
	Total     int            `json:"total_score"`
	Clusters  []ClusterScore `json:"clusters,omitempty"`
	Category  string         `json:"category"`
	Answers   []int          `json:"raw_answers"`
}

// Clone returns a deep copy of the record
func (r ResultRecord) Clone() ResultRecord {
	c := r
	c.Answers = append([]int(nil), r.Answers...)
	c.Clusters = append([]ClusterScore(nil), r.Clusters...)
	return c
}
