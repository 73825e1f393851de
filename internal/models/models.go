package models

import "time"

// TaskKind identifies the generation mode requested from the remote service.
type TaskKind string

const (
	TaskKindImage      TaskKind = "image"
	TaskKindVideo      TaskKind = "video"
	TaskKindStoryboard TaskKind = "storyboard"
	TaskKindRemix      TaskKind = "remix"
)

// TaskStatus is the lifecycle state of a generation task as observed through polling.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsTerminal reports whether the status will never change again.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed
}

func (s TaskStatus) rank() int {
	switch s {
	case TaskStatusQueued:
		return 0
	case TaskStatusRunning:
		return 1
	case TaskStatusSucceeded, TaskStatusFailed:
		return 2
	default:
		return -1
	}
}

// Advances reports whether moving from s to next is a forward transition.
// Tasks never move backward and never leave a terminal state.
func (s TaskStatus) Advances(next TaskStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// GenerationTask is the locally tracked view of a server-side generation job.
// The remote service owns the durable truth; this record is mutated only by
// poll responses and becomes immutable once terminal.
type GenerationTask struct {
	ID        string
	Account   string
	Kind      TaskKind
	Status    TaskStatus
	Progress  int
	ResultURL string
	ErrorCode string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MediaKind distinguishes uploaded asset types.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// UploadAsset references media uploaded to the remote service. Read-only
// after creation; generation requests and cameo workflows refer to it by ID.
type UploadAsset struct {
	ID      string
	Kind    MediaKind
	Pointer string
}

// CameoStatus is the remote processing state of a character source upload.
type CameoStatus string

const (
	CameoStatusProcessing CameoStatus = "processing"
	CameoStatusReady      CameoStatus = "ready"
)

// Cameo is a user persona derived from an uploaded source video. CharacterID
// is set only after a successful finalize call; an unfinalized cameo cannot
// be made public.
type Cameo struct {
	ID            string
	SourceAssetID string
	Status        CameoStatus
	DisplayName   string
	Username      string
	AvatarPointer string
	CharacterID   string
}

// PublishPost is the shareable result of publishing a completed generation.
// Deleting the post does not affect the underlying generation task.
type PublishPost struct {
	ID           string
	GenerationID string
	ShareURL     string
}
