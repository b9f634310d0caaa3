package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// PullRequest is a pull request extracted from the remote system.
type PullRequest struct {
	Organization     string
	Project          string
	Repository       Repository
	PullRequestID    int
	Title            string
	Description      string
	Author           User
	Status           PRStatus
	CreatedAt        time.Time
	ClosedAt         *time.Time
	UpdatedAt        *time.Time // Remote last-modified time when the source exposes one.
	CycleTimeMinutes *float64
	Reviewers        []Reviewer
}

// Reviewer is a user asked to review a pull request, with their vote.
type Reviewer struct {
	User User
	Vote int
}

// PullRequestUID builds the single key that identifies a pull request across
// organizations, projects and repositories.
func PullRequestUID(organization, project, repositoryID string, pullRequestID int) string {
	return fmt.Sprintf("%s-%s-%s-%d", organization, project, repositoryID, pullRequestID)
}

// UID returns the composite identifier of the pull request.
func (pr PullRequest) UID() string {
	return PullRequestUID(pr.Organization, pr.Project, pr.Repository.ID, pr.PullRequestID)
}

// Normalize enforces the closed-date/status invariant and derives the cycle
// time. It returns an error for records that cannot be repaired.
func (pr *PullRequest) Normalize() error {
	if pr.Organization == "" || pr.Project == "" || pr.Repository.ID == "" {
		return errors.New("pull request is missing organization, project or repository")
	}
	if pr.PullRequestID <= 0 {
		return fmt.Errorf("invalid pull request id %d", pr.PullRequestID)
	}
	if pr.Author.ID == "" {
		return fmt.Errorf("pull request %d has no author", pr.PullRequestID)
	}

	if pr.Status.IsTerminal() {
		if pr.ClosedAt == nil || pr.ClosedAt.IsZero() {
			return fmt.Errorf("pull request %d is %s without a closed date", pr.PullRequestID, pr.Status)
		}
	} else {
		pr.ClosedAt = nil
	}

	pr.CycleTimeMinutes = nil
	if pr.ClosedAt != nil && !pr.CreatedAt.IsZero() {
		minutes := pr.ClosedAt.Sub(pr.CreatedAt).Minutes()
		minutes = math.Max(0, math.Round(minutes*100)/100)
		pr.CycleTimeMinutes = &minutes
	}

	pr.Repository.Organization = pr.Organization
	pr.Repository.Project = pr.Project
	return nil
}

// PRRef is the minimal reference needed to fetch a pull request's threads.
type PRRef struct {
	UID           string
	Organization  string
	Project       string
	RepositoryID  string
	PullRequestID int
	ClosedAt      time.Time
}
