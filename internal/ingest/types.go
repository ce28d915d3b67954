// Package ingest defines core types shared across the ingestion pipeline.
package ingest

import (
	"time"
)

// JobState represents the lifecycle state of a crawl job inside the queue.
type JobState string

// Job states tracked by the queue.
const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateDelayed   JobState = "delayed"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStatePaused    JobState = "paused"
)

// LiveJobStates are the states in which a job occupies its source's queue slot.
// At most one job per source may be in any of these states at a time.
var LiveJobStates = []JobState{JobStateWaiting, JobStateActive, JobStateDelayed}

// IsTerminal reports whether the state ends the job's lifecycle.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// SourceStatus represents the persisted state of a crawl target.
type SourceStatus string

// Source status values persisted by the source store.
const (
	SourceStatusQueued     SourceStatus = "queued"
	SourceStatusProcessing SourceStatus = "processing"
	SourceStatusReady      SourceStatus = "ready"
	SourceStatusError      SourceStatus = "error"
)

// SourceType distinguishes website sources from other ingestion kinds.
type SourceType string

// Source types.
const (
	SourceTypeWebsite SourceType = "website"
	SourceTypeOther   SourceType = "other"
)

// CrawlJob is the unit of work held by the queue. It is owned exclusively by
// the queue while in flight; a Source references it but never owns it.
type CrawlJob struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	ProjectID string    `json:"project_id"`
	TargetURL string    `json:"target_url"`
	State     JobState  `json:"state"`
	Progress  int       `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
}

// ExtractedLink is one hyperlink discovered during crawling or generation.
// Verified is true only if the URL passed the safety checks and, once probed,
// the most recent liveness check within the freshness window.
type ExtractedLink struct {
	ID          string        `json:"id"`
	Text        string        `json:"text"`
	URL         string        `json:"url"`
	Position    *LinkPosition `json:"position,omitempty"`
	Verified    bool          `json:"verified"`
	LastChecked *time.Time    `json:"last_checked,omitempty"`
}

// LinkPosition records character offsets for inline text links so they can be
// substituted in place later.
type LinkPosition struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Source is a persisted crawl target. Mutated by the worker (status, links,
// chunk count) and by the reconciler (forced error transition); never deleted
// by the pipeline.
type Source struct {
	ID         string            `json:"id"`
	AgentID    string            `json:"agent_id"`
	ProjectID  string            `json:"project_id"`
	Type       SourceType        `json:"type"`
	Status     SourceStatus      `json:"status"`
	WebsiteURL string            `json:"website_url"`
	Links      []ExtractedLink   `json:"links,omitempty"`
	ChunkCount int               `json:"chunk_count"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// SourceUpdate captures a partial mutation of a Source. Nil fields are left
// untouched; last writer wins.
type SourceUpdate struct {
	Status     *SourceStatus
	Links      []ExtractedLink
	ChunkCount *int
	Metadata   map[string]string
}

// SourceFilter narrows ListSources results.
type SourceFilter struct {
	Statuses []SourceStatus
	Type     SourceType
	AgentID  string
}

// QueueCounts summarizes queue membership by state.
type QueueCounts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Paused    int `json:"paused"`
}

// Page is one fetched page handed from the fetcher to the worker.
type Page struct {
	URL        string
	StatusCode int
	HTML       string
	Duration   time.Duration
}
