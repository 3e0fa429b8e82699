// Package job keeps the persistent record of every submitted transcode and its outputs.
package job

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"ladder/internal/variant"
)

type Status string

const (
	Queued     Status = "queued"
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

var ErrNotFound = errors.New("job not found")

type Job struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	FileName    string         `json:"file_name"`
	SourceURL   string         `json:"source_url,omitempty"`
	ManifestURL string         `json:"manifest_url,omitempty"`
	Format      variant.Format `json:"format"`
	Qualities   []string       `json:"quality_profiles,omitempty"`
	Status      Status         `json:"status"`
	Progress    int            `json:"progress"`
	Error       string         `json:"error_message,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

type Output struct {
	JobID          string `json:"job_id"`
	QualityVariant string `json:"quality_variant"`
	ManifestURL    string `json:"manifest_url"`
	Bitrate        int    `json:"bitrate"`
	Resolution     string `json:"resolution"`
}

func New(userID, fileName string, format variant.Format, qualities []string) *Job {
	now := time.Now().UTC()

	return &Job{
		ID:        uuid.New().String(),
		UserID:    userID,
		FileName:  fileName,
		Format:    format,
		Qualities: qualities,
		Status:    Queued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// List returns a page of the user's jobs, newest first, and the user's total job count.
	List(ctx context.Context, userID string, limit, offset int) ([]*Job, int, error)
	Update(ctx context.Context, id string, fn func(job *Job) error) (*Job, error)
	AddOutput(ctx context.Context, output Output) error
	Outputs(ctx context.Context, jobID string) ([]Output, error)
	DeleteOutputs(ctx context.Context, jobID string) error
	Delete(ctx context.Context, id string) error
	Close() error
}
