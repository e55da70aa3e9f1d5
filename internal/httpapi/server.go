// Package httpapi exposes the timeline and transport over HTTP so a browser
// front end or a script can drive the music box.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/cbegin/musicbox-go/internal/project"
	"github.com/cbegin/musicbox-go/internal/timeline"
)

// Transport is the playback control the API drives.
type Transport interface {
	Start(ctx context.Context) error
	Stop()
}

type Server struct {
	store     *timeline.Store
	transport Transport
	log       logrus.FieldLogger
	origins   []string
	router    *mux.Router
}

type Option func(*Server)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// WithAllowedOrigins sets the CORS origins; the default allows any.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

func New(store *timeline.Store, tr Transport, opts ...Option) *Server {
	s := &Server{
		store:     store,
		transport: tr,
		log:       logrus.StandardLogger(),
		origins:   []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "httpapi")
	r := mux.NewRouter().StrictSlash(true)
	r.HandleFunc("/project", s.getProject).Methods(http.MethodGet)
	r.HandleFunc("/project", s.putProject).Methods(http.MethodPut)
	r.HandleFunc("/project", s.clearProject).Methods(http.MethodDelete)
	r.HandleFunc("/notes/toggle", s.toggleNote).Methods(http.MethodPost)
	r.HandleFunc("/tempo", s.putTempo).Methods(http.MethodPut)
	r.HandleFunc("/steps", s.putSteps).Methods(http.MethodPut)
	r.HandleFunc("/play", s.play).Methods(http.MethodPost)
	r.HandleFunc("/stop", s.stop).Methods(http.MethodPost)
	r.HandleFunc("/state", s.state).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler is the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// ListenAndServe serves on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.WithField("addr", addr).Info("listening")
	select {
	case err := <-errc:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return errors.Wrap(srv.Shutdown(shutdownCtx), "http shutdown")
	}
}

type State struct {
	IsPlaying   bool    `json:"isPlaying"`
	CurrentStep int     `json:"currentStep"`
	Tempo       float64 `json:"tempo"`
	Steps       int     `json:"steps"`
	Notes       int     `json:"notes"`
}

type toggleRequest struct {
	RowIndex  *int `json:"rowIndex"`
	StepIndex *int `json:"stepIndex"`
}

type toggleResponse struct {
	Added bool `json:"added"`
}

type tempoRequest struct {
	Tempo float64 `json:"tempo"`
}

type stepsRequest struct {
	Steps int `json:"steps"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("write response")
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	s.log.WithError(err).WithField("status", status).Info("request failed")
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+project.FileName(r.URL.Query().Get("name"))+`"`)
	if err := project.Save(w, s.store); err != nil {
		s.log.WithError(err).Warn("write project")
	}
}

func (s *Server) putProject(w http.ResponseWriter, r *http.Request) {
	if err := project.Load(r.Body, s.store); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	s.state(w, r)
}

func (s *Server) clearProject(w http.ResponseWriter, r *http.Request) {
	s.store.Clear()
	s.state(w, r)
}

func (s *Server) toggleNote(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, errors.Wrap(err, "decode toggle"))
		return
	}
	if req.RowIndex == nil || req.StepIndex == nil {
		s.fail(w, http.StatusBadRequest, errors.New("rowIndex and stepIndex are required"))
		return
	}
	added, err := s.store.ToggleNote(*req.RowIndex, *req.StepIndex)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toggleResponse{Added: added})
}

func (s *Server) putTempo(w http.ResponseWriter, r *http.Request) {
	var req tempoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, errors.Wrap(err, "decode tempo"))
		return
	}
	if err := s.store.SetTempo(req.Tempo); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	s.state(w, r)
}

func (s *Server) putSteps(w http.ResponseWriter, r *http.Request) {
	var req stepsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, errors.Wrap(err, "decode steps"))
		return
	}
	if err := s.store.SetTotalSteps(req.Steps); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	s.state(w, r)
}

func (s *Server) play(w http.ResponseWriter, r *http.Request) {
	if err := s.transport.Start(r.Context()); err != nil {
		s.fail(w, http.StatusServiceUnavailable, err)
		return
	}
	s.state(w, r)
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	s.transport.Stop()
	s.state(w, r)
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	pb := s.store.Playback()
	s.writeJSON(w, http.StatusOK, State{
		IsPlaying:   pb.IsPlaying,
		CurrentStep: pb.CurrentStep,
		Tempo:       s.store.Tempo(),
		Steps:       s.store.TotalSteps(),
		Notes:       len(s.store.PlacedNotes()),
	})
}
