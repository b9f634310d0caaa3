package ado

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
)

// Wire records mirror the subset of the Azure DevOps payloads we consume.
// Dates are kept as strings because the API mixes offsets, fractional
// seconds and the zero date "0001-01-01T00:00:00".

type projectResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
}

func (i identity) user() model.User {
	email := ""
	if strings.Contains(i.UniqueName, "@") {
		email = i.UniqueName
	}
	return model.User{ID: i.ID, DisplayName: i.DisplayName, Email: email}
}

type reviewerRecord struct {
	identity
	Vote int `json:"vote"`
}

type repositoryRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Project struct {
		Name string `json:"name"`
	} `json:"project"`
}

type pullRequestRecord struct {
	PullRequestID int              `json:"pullRequestId"`
	Status        string           `json:"status"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	CreationDate  string           `json:"creationDate"`
	ClosedDate    string           `json:"closedDate"`
	CreatedBy     identity         `json:"createdBy"`
	Repository    repositoryRecord `json:"repository"`
	Reviewers     []reviewerRecord `json:"reviewers"`
}

type pullRequestPage struct {
	Count int                 `json:"count"`
	Value []pullRequestRecord `json:"value"`
}

type commentRecord struct {
	ID              int      `json:"id"`
	Author          identity `json:"author"`
	Content         string   `json:"content"`
	CommentType     string   `json:"commentType"`
	PublishedDate   string   `json:"publishedDate"`
	LastUpdatedDate string   `json:"lastUpdatedDate"`
	IsDeleted       bool     `json:"isDeleted"`
}

type threadRecord struct {
	ID              int             `json:"id"`
	Status          string          `json:"status"`
	ThreadContext   json.RawMessage `json:"threadContext"`
	PublishedDate   string          `json:"publishedDate"`
	LastUpdatedDate string          `json:"lastUpdatedDate"`
	IsDeleted       bool            `json:"isDeleted"`
	Comments        []commentRecord `json:"comments"`
}

type threadPage struct {
	Count int            `json:"count"`
	Value []threadRecord `json:"value"`
}

// parseTime parses an API timestamp. It returns the zero time for empty and
// year-one values.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "0001-01-01") {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	// Some endpoints omit the zone designator; those values are UTC.
	t, err := time.Parse("2006-01-02T15:04:05.999999999", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// toPullRequest validates rec and maps it to the domain model.
func (rec pullRequestRecord) toPullRequest(organization, project string) (model.PullRequest, error) {
	if rec.PullRequestID <= 0 {
		return model.PullRequest{}, errors.New("missing pullRequestId")
	}
	if rec.Repository.ID == "" {
		return model.PullRequest{}, fmt.Errorf("pull request %d has no repository id", rec.PullRequestID)
	}
	if rec.CreatedBy.ID == "" {
		return model.PullRequest{}, fmt.Errorf("pull request %d has no author", rec.PullRequestID)
	}

	status, err := model.ParsePRStatus(rec.Status)
	if err != nil {
		return model.PullRequest{}, fmt.Errorf("pull request %d: %w", rec.PullRequestID, err)
	}

	created, err := parseTime(rec.CreationDate)
	if err != nil {
		return model.PullRequest{}, fmt.Errorf("pull request %d creationDate: %w", rec.PullRequestID, err)
	}
	closed, err := parseTime(rec.ClosedDate)
	if err != nil {
		return model.PullRequest{}, fmt.Errorf("pull request %d closedDate: %w", rec.PullRequestID, err)
	}

	pr := model.PullRequest{
		Organization: organization,
		Project:      project,
		Repository: model.Repository{
			ID:   rec.Repository.ID,
			Name: rec.Repository.Name,
		},
		PullRequestID: rec.PullRequestID,
		Title:         rec.Title,
		Description:   rec.Description,
		Author:        rec.CreatedBy.user(),
		Status:        status,
		CreatedAt:     created,
	}
	if !closed.IsZero() {
		pr.ClosedAt = &closed
	}

	for _, r := range rec.Reviewers {
		if r.ID == "" {
			continue
		}
		pr.Reviewers = append(pr.Reviewers, model.Reviewer{User: r.user(), Vote: r.Vote})
	}

	return pr, nil
}

func (rec threadRecord) toThread() (model.Thread, error) {
	if rec.ID <= 0 {
		return model.Thread{}, errors.New("missing thread id")
	}
	created, err := parseTime(rec.PublishedDate)
	if err != nil {
		return model.Thread{}, fmt.Errorf("thread %d publishedDate: %w", rec.ID, err)
	}
	updated, err := parseTime(rec.LastUpdatedDate)
	if err != nil {
		return model.Thread{}, fmt.Errorf("thread %d lastUpdatedDate: %w", rec.ID, err)
	}
	if updated.IsZero() {
		updated = created
	}

	th := model.Thread{
		ID:          strconv.Itoa(rec.ID),
		Status:      rec.Status,
		LastUpdated: updated,
		CreatedAt:   created,
		IsDeleted:   rec.IsDeleted,
	}
	if ctx := strings.TrimSpace(string(rec.ThreadContext)); ctx != "" && ctx != "null" {
		th.Context = ctx
	}

	for _, c := range rec.Comments {
		if c.ID <= 0 {
			continue
		}
		commentCreated, err := parseTime(c.PublishedDate)
		if err != nil {
			return model.Thread{}, fmt.Errorf("comment %d/%d publishedDate: %w", rec.ID, c.ID, err)
		}
		comment := model.Comment{
			ID:          strconv.Itoa(c.ID),
			ThreadID:    th.ID,
			Author:      c.Author.user(),
			Content:     c.Content,
			CommentType: c.CommentType,
			CreatedAt:   commentCreated,
			IsDeleted:   c.IsDeleted,
		}
		if comment.CommentType == "" {
			comment.CommentType = "text"
		}
		if lu, err := parseTime(c.LastUpdatedDate); err == nil && !lu.IsZero() {
			comment.LastUpdated = &lu
		}
		th.Comments = append(th.Comments, comment)
	}

	return th, nil
}
