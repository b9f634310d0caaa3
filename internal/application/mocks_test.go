package application_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

// --- PR source ---

type threadKey struct {
	repo string
	id   int
}

type mockSource struct {
	mu          sync.Mutex
	prs         map[string][]model.PullRequest
	threads     map[threadKey][]model.Thread
	failProject map[string]error
	failThreads map[threadKey]error
	connErr     error

	listCalls   []string
	windows     map[string]driven.Window
	threadCalls []string
}

func newMockSource() *mockSource {
	return &mockSource{
		prs:         make(map[string][]model.PullRequest),
		threads:     make(map[threadKey][]model.Thread),
		failProject: make(map[string]error),
		failThreads: make(map[threadKey]error),
		windows:     make(map[string]driven.Window),
	}
}

func (m *mockSource) TestConnection(_ context.Context, _ string) error {
	return m.connErr
}

func (m *mockSource) ListPullRequests(_ context.Context, project string, window driven.Window) ([]model.PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls = append(m.listCalls, project)
	m.windows[project] = window
	if err := m.failProject[project]; err != nil {
		return nil, err
	}
	out := make([]model.PullRequest, len(m.prs[project]))
	copy(out, m.prs[project])
	return out, nil
}

func (m *mockSource) GetPRThreads(_ context.Context, project, repositoryID string, pullRequestID int) ([]model.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threadCalls = append(m.threadCalls, fmt.Sprintf("%s/%s/%d", project, repositoryID, pullRequestID))
	key := threadKey{repo: repositoryID, id: pullRequestID}
	if err := m.failThreads[key]; err != nil {
		return nil, err
	}
	src := m.threads[key]
	out := make([]model.Thread, len(src))
	for i, th := range src {
		th.Comments = append([]model.Comment(nil), th.Comments...)
		out[i] = th
	}
	return out, nil
}

// --- Entity store ---

type memState struct {
	orgs       map[string]bool
	projects   map[string]bool
	repos      map[string]model.Repository
	users      map[string]model.User
	prs        map[string]model.PullRequest
	reviewers  map[string]int
	threads    map[string]model.Thread
	comments   map[string]model.Comment
	watermarks map[string]time.Time
}

func newMemState() *memState {
	return &memState{
		orgs:       make(map[string]bool),
		projects:   make(map[string]bool),
		repos:      make(map[string]model.Repository),
		users:      make(map[string]model.User),
		prs:        make(map[string]model.PullRequest),
		reviewers:  make(map[string]int),
		threads:    make(map[string]model.Thread),
		comments:   make(map[string]model.Comment),
		watermarks: make(map[string]time.Time),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.orgs {
		c.orgs[k] = v
	}
	for k, v := range s.projects {
		c.projects[k] = v
	}
	for k, v := range s.repos {
		c.repos[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.prs {
		c.prs[k] = v
	}
	for k, v := range s.reviewers {
		c.reviewers[k] = v
	}
	for k, v := range s.threads {
		c.threads[k] = v
	}
	for k, v := range s.comments {
		c.comments[k] = v
	}
	for k, v := range s.watermarks {
		c.watermarks[k] = v
	}
	return c
}

// memStore is an in-memory EntityStore with transactional Update semantics.
type memStore struct {
	mu        sync.Mutex
	state     *memState
	failWrite error
	commits   int
}

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

func (m *memStore) Update(_ context.Context, fn func(driven.EntityWriter) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.state.clone()
	if err := fn(&memWriter{s: staged, fail: m.failWrite}); err != nil {
		return err
	}
	m.state = staged
	m.commits++
	return nil
}

func (m *memStore) Watermark(_ context.Context, org, project string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wm, ok := m.state.watermarks[org+"/"+project]
	if !ok {
		return nil, nil
	}
	return &wm, nil
}

func (m *memStore) setWatermark(org, project string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.watermarks[org+"/"+project] = t
}

func (m *memStore) ThreadLastUpdated(_ context.Context, uid string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *time.Time
	for _, th := range m.state.threads {
		if th.PullRequestUID != uid {
			continue
		}
		if latest == nil || th.LastUpdated.After(*latest) {
			t := th.LastUpdated
			latest = &t
		}
	}
	return latest, nil
}

func (m *memStore) ListRecentlyClosedPRs(_ context.Context, limit int) ([]model.PRRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var refs []model.PRRef
	for uid, pr := range m.state.prs {
		if pr.Status != model.PRStatusCompleted {
			continue
		}
		refs = append(refs, model.PRRef{
			UID:           uid,
			Organization:  pr.Organization,
			Project:       pr.Project,
			RepositoryID:  pr.Repository.ID,
			PullRequestID: pr.PullRequestID,
			ClosedAt:      *pr.ClosedAt,
		})
	}
	sort.Slice(refs, func(i, j int) bool {
		if !refs[i].ClosedAt.Equal(refs[j].ClosedAt) {
			return refs[i].ClosedAt.After(refs[j].ClosedAt)
		}
		return refs[i].UID < refs[j].UID
	})
	if len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

func (m *memStore) Counts(_ context.Context) (model.EntityCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.EntityCounts{
		Organizations: len(m.state.orgs),
		Projects:      len(m.state.projects),
		Repositories:  len(m.state.repos),
		Users:         len(m.state.users),
		PullRequests:  len(m.state.prs),
		Reviewers:     len(m.state.reviewers),
		Threads:       len(m.state.threads),
		Comments:      len(m.state.comments),
	}, nil
}

type memWriter struct {
	s    *memState
	fail error
}

func (w *memWriter) UpsertOrganization(_ context.Context, name string) error {
	w.s.orgs[name] = true
	return nil
}

func (w *memWriter) UpsertProject(ctx context.Context, org, project string) error {
	_ = w.UpsertOrganization(ctx, org)
	w.s.projects[org+"/"+project] = true
	return nil
}

func (w *memWriter) UpsertRepository(ctx context.Context, repo model.Repository) error {
	_ = w.UpsertProject(ctx, repo.Organization, repo.Project)
	w.s.repos[repo.ID] = repo
	return nil
}

func (w *memWriter) UpsertUser(_ context.Context, user model.User) error {
	w.s.users[user.ID] = user
	return nil
}

func (w *memWriter) UpsertPullRequest(ctx context.Context, pr model.PullRequest) error {
	if w.fail != nil {
		return w.fail
	}
	_ = w.UpsertRepository(ctx, pr.Repository)
	_ = w.UpsertUser(ctx, pr.Author)
	w.s.prs[pr.UID()] = pr
	for _, rv := range pr.Reviewers {
		_ = w.UpsertUser(ctx, rv.User)
		w.s.reviewers[pr.UID()+"|"+rv.User.ID] = rv.Vote
	}
	return nil
}

func (w *memWriter) UpsertThread(_ context.Context, th model.Thread) error {
	if _, ok := w.s.prs[th.PullRequestUID]; !ok {
		return fmt.Errorf("%w: thread %s references unknown PR %s", driven.ErrDatabase, th.ID, th.PullRequestUID)
	}
	w.s.threads[th.PullRequestUID+"|"+th.ID] = th
	return nil
}

func (w *memWriter) UpsertComment(ctx context.Context, c model.Comment) error {
	_ = w.UpsertUser(ctx, c.Author)
	if _, ok := w.s.threads[c.PullRequestUID+"|"+c.ThreadID]; !ok {
		return fmt.Errorf("%w: comment %s references unknown thread %s", driven.ErrDatabase, c.ID, c.ThreadID)
	}
	w.s.comments[c.PullRequestUID+"|"+c.ThreadID+"|"+c.ID] = c
	return nil
}

func (w *memWriter) SetWatermark(ctx context.Context, org, project string, date time.Time) error {
	_ = w.UpsertProject(ctx, org, project)
	w.s.watermarks[org+"/"+project] = date
	return nil
}

// --- Run metrics ---

type recordingMetrics struct {
	projects map[string]string
	threads  int
	capped   bool
	status   string
	flushed  bool
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{projects: make(map[string]string)}
}

func (r *recordingMetrics) ObserveProject(project, status string, _ int, _ time.Duration) {
	r.projects[project] = status
}

func (r *recordingMetrics) ObserveComments(threads, _ int, capped bool) {
	r.threads = threads
	r.capped = capped
}

func (r *recordingMetrics) SetRunStatus(status string) { r.status = status }

func (r *recordingMetrics) Flush() error {
	r.flushed = true
	return nil
}

// --- Fixtures ---

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func timePtr(s string) *time.Time {
	t := mustTime(s)
	return &t
}

func completedPR(project, repo string, id int, created, closed string) model.PullRequest {
	return model.PullRequest{
		Organization:  "contoso",
		Project:       project,
		Repository:    model.Repository{ID: repo, Name: repo},
		PullRequestID: id,
		Title:         fmt.Sprintf("PR %d", id),
		Author:        model.User{ID: "u-" + repo, DisplayName: "Dev " + repo},
		Status:        model.PRStatusCompleted,
		CreatedAt:     mustTime(created),
		ClosedAt:      timePtr(closed),
		Reviewers:     []model.Reviewer{{User: model.User{ID: "u-reviewer", DisplayName: "Reviewer"}, Vote: 10}},
	}
}

// --- Analytics reader ---

type mockReader struct {
	prs     []model.CompletedPR
	stats   model.PRStats
	markers model.FreshnessMarkers
	err     error
}

func (m *mockReader) ListCompletedPRs(_ context.Context) ([]model.CompletedPR, error) {
	return m.prs, m.err
}

func (m *mockReader) PRStats(_ context.Context) (model.PRStats, error) {
	return m.stats, m.err
}

func (m *mockReader) FreshnessMarkers(_ context.Context) (model.FreshnessMarkers, error) {
	return m.markers, m.err
}

// --- Artifact store ---

type memArtifacts struct {
	files  map[string][]byte
	failOn map[string]error
	writes []string
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{files: make(map[string][]byte), failOn: make(map[string]error)}
}

func (m *memArtifacts) WriteJSON(name string, v any) error {
	if err := m.failOn[name]; err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	m.files[name] = b
	m.writes = append(m.writes, name)
	return nil
}

func (m *memArtifacts) ReadJSON(name string, v any) (bool, error) {
	b, ok := m.files[name]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

func (m *memArtifacts) Root() string { return "mem://" }

// --- Insight generator ---

type mockGenerator struct {
	model    string
	response string
	err      error
	calls    int
	prompts  []driven.InsightPrompt
}

func (m *mockGenerator) Generate(_ context.Context, prompt driven.InsightPrompt) (string, error) {
	m.calls++
	m.prompts = append(m.prompts, prompt)
	return m.response, m.err
}

func (m *mockGenerator) Model() string { return m.model }
