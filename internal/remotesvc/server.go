// Package remotesvc is a reference implementation of the remote entity
// service the sync engine mirrors to. It exists so the whole offline/online
// loop can run end to end against a real HTTP server.
//
// Routes:
//
//	GET    /health
//	GET    /entities/{kind}
//	POST   /entities/{kind}
//	PATCH  /entities/{kind}/{id}
//	DELETE /entities/{kind}/{id}
package remotesvc

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/dodgesync/internal/entity"
)

// maxBody caps request bodies.
const maxBody = 1 << 20

// Server serves Records over HTTP.
type Server struct {
	records *Records
	logger  *zap.Logger
	newID   func() string
}

// NewServer returns a Server over records. Remote ids are random UUIDs.
func NewServer(records *Records, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		records: records,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// Handler wires the routes into a chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/entities/{kind}", func(r chi.Router) {
		r.Get("/", s.list)
		r.Post("/", s.create)
		r.Patch("/{id}", s.update)
		r.Delete("/{id}", s.delete)
	})

	return r
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}
	recs, err := s.records.List(r.Context(), kind)
	if err != nil {
		s.internal(w, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	id := s.newID()
	rec := body.Clone()
	rec["id"] = id
	if err := s.records.Insert(r.Context(), kind, id, rec); err != nil {
		s.internal(w, "create", err)
		return
	}
	s.logger.Debug("record created", zap.String("kind", string(kind)), zap.String("id", id))
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	patch, ok := decodeBody(w, r)
	if !ok {
		return
	}

	existing, err := s.records.Get(r.Context(), kind, id)
	if errors.Is(err, errNoRecord) {
		writeError(w, http.StatusNotFound, string(kind)+" not found: "+id)
		return
	}
	if err != nil {
		s.internal(w, "update", err)
		return
	}

	merged := existing.Merge(patch)
	merged["id"] = id
	if err := s.records.Update(r.Context(), kind, id, merged); err != nil {
		if errors.Is(err, errNoRecord) {
			writeError(w, http.StatusNotFound, string(kind)+" not found: "+id)
			return
		}
		s.internal(w, "update", err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	// A retried delete whose first response was lost must still succeed.
	if err := s.records.Delete(r.Context(), kind, id); err != nil {
		s.internal(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) kind(w http.ResponseWriter, r *http.Request) (entity.Kind, bool) {
	kind, err := entity.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return kind, true
}

func (s *Server) internal(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func decodeBody(w http.ResponseWriter, r *http.Request) (entity.Payload, bool) {
	var body entity.Payload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return nil, false
	}
	if body == nil {
		body = entity.Payload{}
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
