package model

import "time"

// Thread is a discussion thread on a pull request.
type Thread struct {
	ID             string
	PullRequestUID string
	Status         string
	Context        string // Raw JSON describing the file/line anchor, empty for PR-level threads.
	LastUpdated    time.Time
	CreatedAt      time.Time
	IsDeleted      bool
	Comments       []Comment
}

// Comment is a single message inside a thread.
type Comment struct {
	ID             string
	ThreadID       string
	PullRequestUID string
	Author         User
	Content        string
	CommentType    string
	CreatedAt      time.Time
	LastUpdated    *time.Time
	IsDeleted      bool
}

// EntityCounts reports row counts per table, used for run summaries and
// idempotence checks.
type EntityCounts struct {
	Organizations int `json:"organizations"`
	Projects      int `json:"projects"`
	Repositories  int `json:"repositories"`
	Users         int `json:"users"`
	PullRequests  int `json:"pull_requests"`
	Reviewers     int `json:"reviewers"`
	Threads       int `json:"threads"`
	Comments      int `json:"comments"`
}
