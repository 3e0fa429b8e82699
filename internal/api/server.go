// Package api exposes the job store over HTTP: submission, status, listing, outputs, deletion and
// bulk download information. Every job route is scoped to the authenticated user.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"ladder/internal/job"
	"ladder/internal/queue"
	"ladder/internal/storage"
)

var logger = log.WithFields(log.Fields{"app": "api"})

type Config struct {
	Secret    string
	RateLimit int
}

type Server struct {
	store   job.Store
	channel queue.Channel
	bucket  storage.Bucket
	router  chi.Router
}

// New builds the HTTP facade. channel and bucket are optional: without a channel submitted jobs
// stay queued, without a bucket deleting a job leaves its artifacts in place.
func New(config Config, store job.Store, channel queue.Channel, bucket storage.Bucket) *Server {
	s := &Server{store: store, channel: channel, bucket: bucket}

	if config.RateLimit <= 0 {
		config.RateLimit = 600
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors)
	r.Use(metrics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	routes := func(r chi.Router) {
		r.Use(authenticate([]byte(config.Secret)))
		r.Use(rateLimit(config.RateLimit, time.Minute))

		r.Post("/submit", s.submit)
		r.Get("/status", s.status)
		r.Get("/jobs", s.jobs)
		r.Get("/outputs", s.outputs)
		r.Delete("/delete", s.delete)
		r.Delete("/bulk-delete", s.bulkDelete)
		r.Post("/bulk-download", s.bulkDownload)
	}

	r.Group(routes)
	r.Route("/transcoding-api", routes)

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	s.router = r

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Endpoint not found")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Debug("unable to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
