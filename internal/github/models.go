package github

import (
	"time"

	"github.com/google/go-github/v62/github"
)

// Pull request states as reported by the GraphQL API.
const (
	StateOpen   = "OPEN"
	StateClosed = "CLOSED"
	StateMerged = "MERGED"
)

// PullRequestRecord is one pull request as seen at collection time.
type PullRequestRecord struct {
	Owner  string
	Repo   string
	Number int

	CreatedAt *time.Time
	MergedAt  *time.Time
	ClosedAt  *time.Time
	State     string
	IsDraft   bool

	Additions    int
	Deletions    int
	ChangedFiles int
	CommitCount  int

	// Author is empty when the account has been deleted.
	Author   string
	MergeSHA string

	// FirstReviewAt is the earliest of the fetched reviews only. When
	// ReviewsTruncated is set the PR had more reviews than were fetched and
	// the true first review may be earlier.
	FirstReviewAt    *time.Time
	ReviewCount      int
	ReviewsTruncated bool
}

// RepoFull returns owner/repo.
func (p PullRequestRecord) RepoFull() string {
	return p.Owner + "/" + p.Repo
}

// WorkflowRunRecord is one GitHub Actions workflow run.
type WorkflowRunRecord struct {
	Owner        string
	Repo         string
	RunID        int64
	WorkflowName string
	Event        string
	Status       string
	// Conclusion is only meaningful when Status is "completed".
	Conclusion string

	CreatedAt *time.Time
	StartedAt *time.Time
	UpdatedAt *time.Time

	HeadSHA   string
	PRNumbers []int
}

// RepoFull returns owner/repo.
func (r WorkflowRunRecord) RepoFull() string {
	return r.Owner + "/" + r.Repo
}

// ReleaseRecord is one GitHub release.
type ReleaseRecord struct {
	Owner      string
	Repo       string
	ReleaseID  int64
	TagName    string
	Name       string
	Draft      bool
	Prerelease bool

	CreatedAt   *time.Time
	PublishedAt *time.Time
}

// RepoFull returns owner/repo.
func (r ReleaseRecord) RepoFull() string {
	return r.Owner + "/" + r.Repo
}

// ReleaseTime is the publish time, falling back to the creation time.
// Nil means the release has no usable timestamp.
func (r ReleaseRecord) ReleaseTime() *time.Time {
	if r.PublishedAt != nil {
		return r.PublishedAt
	}
	return r.CreatedAt
}

// ParseTimestamp parses an RFC 3339 timestamp into UTC. Empty or malformed
// input yields nil.
func ParseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func timestamp(ts *github.Timestamp) *time.Time {
	if ts == nil || ts.Time.IsZero() {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}

func newWorkflowRunRecord(owner, repo string, run *github.WorkflowRun) WorkflowRunRecord {
	var prNumbers []int
	for _, pr := range run.PullRequests {
		if n := pr.GetNumber(); n != 0 {
			prNumbers = append(prNumbers, n)
		}
	}

	return WorkflowRunRecord{
		Owner:        owner,
		Repo:         repo,
		RunID:        run.GetID(),
		WorkflowName: run.GetName(),
		Event:        run.GetEvent(),
		Status:       run.GetStatus(),
		Conclusion:   run.GetConclusion(),
		CreatedAt:    timestamp(run.CreatedAt),
		StartedAt:    timestamp(run.RunStartedAt),
		UpdatedAt:    timestamp(run.UpdatedAt),
		HeadSHA:      run.GetHeadSHA(),
		PRNumbers:    prNumbers,
	}
}

func newReleaseRecord(owner, repo string, rel *github.RepositoryRelease) ReleaseRecord {
	return ReleaseRecord{
		Owner:       owner,
		Repo:        repo,
		ReleaseID:   rel.GetID(),
		TagName:     rel.GetTagName(),
		Name:        rel.GetName(),
		Draft:       rel.GetDraft(),
		Prerelease:  rel.GetPrerelease(),
		CreatedAt:   timestamp(rel.CreatedAt),
		PublishedAt: timestamp(rel.PublishedAt),
	}
}
