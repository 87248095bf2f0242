package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Course is the resource served by an instance.
type Course struct {
	UUID        string `json:"uuid"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type createCourseRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

const defaultCourseTitle = "Default Course"

var errCourseNotFound = errors.New("course not found")

// courseStore keeps courses in memory, in insertion order.
type courseStore struct {
	mu      sync.RWMutex
	order   []string
	courses map[string]Course
}

func newCourseStore() *courseStore {
	return &courseStore{courses: make(map[string]Course)}
}

func (s *courseStore) create(title, description string) Course {
	if title == "" {
		title = defaultCourseTitle
	}
	c := Course{UUID: uuid.NewString(), Title: title, Description: description}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[c.UUID] = c
	s.order = append(s.order, c.UUID)
	return c
}

func (s *courseStore) get(id string) (Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.courses[id]
	if !ok {
		return Course{}, errCourseNotFound
	}
	return c, nil
}

func (s *courseStore) list() []Course {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Course, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.courses[id])
	}
	return out
}

type courseHandler struct {
	store  *courseStore
	logger *slog.Logger
}

func (h *courseHandler) create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	var req createCourseRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	course := h.store.create(req.Title, req.Description)
	h.logger.Info("Course created",
		slog.String("uuid", course.UUID),
		slog.String("remote", r.RemoteAddr))

	writeJSON(w, http.StatusCreated, map[string]any{"course": course})
}

func (h *courseHandler) get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid course id")
		return
	}

	course, err := h.store.get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"course": course})
}

func (h *courseHandler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"courses": h.store.list()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
