package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ladder/internal/job"
	"ladder/internal/queue"
	"ladder/internal/variant"
)

type submitRequest struct {
	SourceURL       string   `json:"source_url"`
	FileName        string   `json:"file_name"`
	Format          string   `json:"format"`
	Qualities       []string `json:"qualities"`
	QualityProfiles []string `json:"quality_profiles"`
}

type submitResponse struct {
	JobID     string     `json:"job_id"`
	Status    job.Status `json:"status"`
	CreatedAt string     `json:"created_at"`
}

type jobIDs struct {
	JobIDs []string `json:"job_ids"`
}

type downloadJob struct {
	JobID    string         `json:"job_id"`
	FileName string         `json:"file_name"`
	Format   variant.Format `json:"format"`
	Status   job.Status     `json:"status"`
	Outputs  []job.Output   `json:"outputs"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.SourceURL == "" {
		writeError(w, http.StatusBadRequest, "source_url required")
		return
	}

	if err := job.CheckSource(userID(r.Context()), req.SourceURL); err != nil {
		writeError(w, http.StatusForbidden, "source_url must be an http(s) URL or one of your own uploads")
		return
	}

	format, err := variant.ParseFormat(req.Format)

	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	qualities := req.QualityProfiles

	if len(qualities) == 0 {
		qualities = req.Qualities
	}

	if _, err = variant.PlanFor(format).Select(qualities); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fileName := req.FileName

	if fileName == "" {
		fileName = path.Base(strings.SplitN(req.SourceURL, "?", 2)[0])
	}

	j := job.New(userID(r.Context()), fileName, format, qualities)
	j.SourceURL = req.SourceURL

	if err = s.store.Create(r.Context(), j); err != nil {
		logger.WithError(err).Error("unable to create job")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.channel != nil {
		err = s.channel.Publish(queue.RequestQueue, queue.TranscodeRequest{
			JobID:     j.ID,
			UserID:    j.UserID,
			Source:    req.SourceURL,
			FileName:  fileName,
			Format:    string(format),
			Qualities: qualities,
		})

		if err != nil {
			logger.WithError(err).WithField("job_id", j.ID).Error("unable to queue job")

			_, _ = s.store.Update(r.Context(), j.ID, func(stored *job.Job) error {
				stored.Status = job.Failed
				stored.Error = "unable to queue job"
				return nil
			})

			writeError(w, http.StatusInternalServerError, "unable to queue job")
			return
		}
	}

	jobsSubmitted.WithLabelValues(string(format)).Inc()

	logger.WithFields(log.Fields{"job_id": j.ID, "user_id": j.UserID, "format": format}).Info("job submitted")

	writeJSON(w, http.StatusCreated, submitResponse{
		JobID:     j.ID,
		Status:    j.Status,
		CreatedAt: j.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// owned returns the job only when it belongs to the authenticated user.
func (s *Server) owned(ctx context.Context, id string) (*job.Job, error) {
	j, err := s.store.Get(ctx, id)

	if err != nil {
		return nil, err
	}

	if j.UserID != userID(ctx) {
		return nil, errors.Wrap(job.ErrNotFound, id)
	}

	return j, nil
}

func (s *Server) ownedFromQuery(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	id := r.URL.Query().Get("job_id")

	if id == "" {
		writeError(w, http.StatusBadRequest, "job_id parameter required")
		return nil, false
	}

	j, err := s.owned(r.Context(), id)

	if errors.Is(err, job.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return nil, false
	}

	if err != nil {
		logger.WithError(err).Error("unable to read job")
		writeError(w, http.StatusInternalServerError, "unable to read job")
		return nil, false
	}

	return j, true
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if j, ok := s.ownedFromQuery(w, r); ok {
		writeJSON(w, http.StatusOK, j)
	}
}

func (s *Server) jobs(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)

	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	offset, err := intParam(r, "offset", 0)

	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, total, err := s.store.List(r.Context(), userID(r.Context()), limit, offset)

	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "total": total})
}

func (s *Server) outputs(w http.ResponseWriter, r *http.Request) {
	j, ok := s.ownedFromQuery(w, r)

	if !ok {
		return
	}

	outputs, err := s.store.Outputs(r.Context(), j.ID)

	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"outputs": outputs})
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	j, ok := s.ownedFromQuery(w, r)

	if !ok {
		return
	}

	if err := s.remove(r.Context(), j); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Job deleted successfully"})
}

func (s *Server) bulkDelete(w http.ResponseWriter, r *http.Request) {
	ids, ok := readJobIDs(w, r)

	if !ok {
		return
	}

	deleted := 0

	for _, id := range ids {
		j, err := s.owned(r.Context(), id)

		if err != nil {
			continue
		}

		if err = s.remove(r.Context(), j); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		deleted++
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       fmt.Sprintf("%d job(s) deleted successfully", deleted),
		"deleted_count": deleted,
	})
}

func (s *Server) bulkDownload(w http.ResponseWriter, r *http.Request) {
	ids, ok := readJobIDs(w, r)

	if !ok {
		return
	}

	jobs := []downloadJob{}

	for _, id := range ids {
		j, err := s.owned(r.Context(), id)

		if err != nil {
			continue
		}

		outputs, err := s.store.Outputs(r.Context(), j.ID)

		if err != nil || len(outputs) == 0 {
			continue
		}

		jobs = append(jobs, downloadJob{
			JobID:    j.ID,
			FileName: j.FileName,
			Format:   j.Format,
			Status:   j.Status,
			Outputs:  outputs,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "total_jobs": len(jobs)})
}

// remove deletes the job record and, when a bucket is configured, every artifact of the job.
func (s *Server) remove(ctx context.Context, j *job.Job) error {
	if s.bucket != nil {
		if err := s.bucket.Delete(ctx, path.Join(j.UserID, j.ID)+"/"); err != nil {
			logger.WithError(err).WithField("job_id", j.ID).Warn("unable to delete job artifacts")
		}
	}

	return s.store.Delete(ctx, j.ID)
}

func readJobIDs(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var body jobIDs

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.JobIDs) == 0 {
		writeError(w, http.StatusBadRequest, "job_ids array required")
		return nil, false
	}

	return body.JobIDs, true
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)

	if raw == "" {
		return fallback, nil
	}

	v, err := strconv.Atoi(raw)

	if err != nil || v < 0 {
		return 0, errors.Errorf("invalid %s parameter", name)
	}

	return v, nil
}
