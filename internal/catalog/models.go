package catalog

import (
	"strings"
	"time"

	"atlas/internal/timeline"
)

// ContentType tags the kind of content a row describes.
type ContentType string

const (
	TypeArticle    ContentType = "article"
	TypePodcast    ContentType = "podcast"
	TypeYouTube    ContentType = "youtube"
	TypeInstapaper ContentType = "instapaper"
)

var allContentTypes = []ContentType{TypeArticle, TypePodcast, TypeYouTube, TypeInstapaper}

// ContentTypes returns every known content type.
func ContentTypes() []ContentType {
	return append([]ContentType(nil), allContentTypes...)
}

// ParseContentType converts a string into a ContentType.
func ParseContentType(value string) (ContentType, bool) {
	normalized := ContentType(strings.ToLower(strings.TrimSpace(value)))
	for _, ct := range allContentTypes {
		if ct == normalized {
			return ct, true
		}
	}
	return "", false
}

// Status represents the processing lifecycle of a content item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusIngested   Status = "ingested"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

var allStatuses = []Status{StatusPending, StatusIngested, StatusProcessing, StatusCompleted, StatusError}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Statuses returns every lifecycle status.
func Statuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[normalized]
	return normalized, ok
}

type statusTransition struct {
	from Status
	to   Status
}

// Forward edges of the lifecycle. error -> processing is the explicit retry.
var allowedTransitions = map[statusTransition]struct{}{
	{StatusPending, StatusProcessing}:   {},
	{StatusIngested, StatusProcessing}:  {},
	{StatusProcessing, StatusCompleted}: {},
	{StatusProcessing, StatusError}:     {},
	{StatusError, StatusProcessing}:     {},
}

// CanTransition reports whether the lifecycle permits moving from one status
// to another. Staying in place is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	_, ok := allowedTransitions[statusTransition{from: from, to: to}]
	return ok
}

// ReviewState is the spaced-repetition bookkeeping carried on every item.
type ReviewState struct {
	Count          int
	LastReviewedAt *time.Time
	NextReviewAt   *time.Time
	SuccessRate    float64
	Difficulty     float64
	UserRating     int
}

// ContentItem is the central catalog row. Podcast is set for podcast items and
// is only reachable through its parent.
type ContentItem struct {
	ID                    int64
	UID                   string
	ContentType           ContentType
	SourceURL             string
	Title                 string
	Status                Status
	HTMLPath              string
	MarkdownPath          string
	MetadataPath          string
	SourceGUID            string
	ShowName              string
	PublishedAt           *time.Time
	Description           string
	Author                string
	ImageURL              string
	Tags                  []string
	Notes                 []string
	RetryCount            int
	LastError             string
	FailureStage          string
	CategoryVersion       string
	LastTaggedAt          *time.Time
	SourceHash            string
	Review                ReviewState
	LastSurfacedAt        *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
	Version               int64

	Podcast *PodcastEpisode
}

// Clone returns a deep copy so cached values cannot be mutated by callers.
func (c *ContentItem) Clone() *ContentItem {
	if c == nil {
		return nil
	}
	out := *c
	out.Tags = append([]string(nil), c.Tags...)
	out.Notes = append([]string(nil), c.Notes...)
	out.PublishedAt = cloneTime(c.PublishedAt)
	out.LastTaggedAt = cloneTime(c.LastTaggedAt)
	out.LastSurfacedAt = cloneTime(c.LastSurfacedAt)
	out.ProcessingStartedAt = cloneTime(c.ProcessingStartedAt)
	out.ProcessingCompletedAt = cloneTime(c.ProcessingCompletedAt)
	out.Review.LastReviewedAt = cloneTime(c.Review.LastReviewedAt)
	out.Review.NextReviewAt = cloneTime(c.Review.NextReviewAt)
	if c.Podcast != nil {
		out.Podcast = c.Podcast.clone()
	}
	return &out
}

// AdSegment is one detected advertisement interval.
type AdSegment struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Confidence float64  `json:"confidence"`
	Types      []string `json:"types"`
	Triggers   []string `json:"triggers,omitempty"`
}

// Span returns the segment's time range.
func (a AdSegment) Span() timeline.Span {
	return timeline.Span{Start: a.Start, End: a.End}
}

// AdSpans projects segments onto their time ranges.
func AdSpans(segments []AdSegment) []timeline.Span {
	spans := make([]timeline.Span, 0, len(segments))
	for _, seg := range segments {
		spans = append(spans, seg.Span())
	}
	return spans
}

// Chapter is a titled range of an episode.
type Chapter struct {
	Start float64 `json:"start"`
	End   float64 `json:"end,omitempty"`
	Title string  `json:"title"`
	URL   string  `json:"url,omitempty"`
}

// TranscriptSegment is a timed span of transcript text.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript source values.
const (
	TranscriptDiscovered = "discovered"
	TranscriptGenerated  = "generated"
)

// PodcastEpisode is the 1:1 extension of a podcast item.
type PodcastEpisode struct {
	OriginalAudioURL       string
	OriginalFilePath       string
	OriginalDuration       float64
	OriginalFileSize       int64
	CleanedFilePath        string
	CleanedDuration        float64
	CleanedFileSize        int64
	CleanedReadyAt         *time.Time
	ShowImageURL           string
	ShowAuthor             string
	ShowURL                string
	ChaptersURL            string
	Chapters               []Chapter
	AdSegments             []AdSegment
	AdsDetectedAt          *time.Time
	DetectionMethods       []string
	TranscriptFull         string
	TranscriptFast         string
	TranscriptSegments     []TranscriptSegment
	TranscriptLanguage     string
	TranscriptSource       string
	TranscriptPath         string
	MarkdownTranscriptPath string
}

func (p *PodcastEpisode) clone() *PodcastEpisode {
	out := *p
	out.CleanedReadyAt = cloneTime(p.CleanedReadyAt)
	out.AdsDetectedAt = cloneTime(p.AdsDetectedAt)
	out.Chapters = append([]Chapter(nil), p.Chapters...)
	out.DetectionMethods = append([]string(nil), p.DetectionMethods...)
	out.TranscriptSegments = append([]TranscriptSegment(nil), p.TranscriptSegments...)
	out.AdSegments = make([]AdSegment, len(p.AdSegments))
	for i, seg := range p.AdSegments {
		seg.Types = append([]string(nil), seg.Types...)
		seg.Triggers = append([]string(nil), seg.Triggers...)
		out.AdSegments[i] = seg
	}
	if p.AdSegments == nil {
		out.AdSegments = nil
	}
	return &out
}

// TagType classifies where a tag edge came from.
type TagType string

const (
	TagManual    TagType = "manual"
	TagAuto      TagType = "auto"
	TagCognitive TagType = "cognitive"
)

// ContentTag is a normalized tag edge.
type ContentTag struct {
	ContentItemID int64
	Tag           string
	Type          TagType
	Confidence    float64
	CreatedAt     time.Time
}

// TagEdge joins a tag with the item fields the pattern reports need.
type TagEdge struct {
	ContentItemID int64
	Tag           string
	ContentType   ContentType
	CreatedAt     time.Time
}

// ContentAnalysis is a versioned analysis payload attached to an item.
type ContentAnalysis struct {
	ID            int64
	ContentItemID int64
	AnalysisType  string
	Payload       string
	Confidence    float64
	ModelVersion  string
	CreatedAt     time.Time
}

// JobStatus is the lifecycle of a processing job.
type JobStatus string

const (
	JobScheduled JobStatus = "scheduled"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
)

// ParseJobStatus converts a string into a JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	switch status := JobStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case JobScheduled, JobRunning, JobPaused:
		return status, true
	}
	return "", false
}

// Job is a scheduled or on-demand unit of work.
type Job struct {
	ID             int64
	Name           string
	JobType        string
	ContentItemID  *int64
	Command        string
	Schedule       string
	Status         JobStatus
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	RunCount       int
	FailureCount   int
	LastError      string
	Enabled        bool
	Priority       int
	TimeoutSeconds int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
