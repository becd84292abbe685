// Package session keeps per-client state between requests: the uploaded
// record table and the model trained from it.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/strokeguard/dataset"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/predictor"
)

// CookieName carries the session id.
const CookieName = "sg_session"

// Session is the state of one client. All fields are guarded by the
// session's own lock; use the accessor methods.
type Session struct {
	ID string

	mu       sync.Mutex
	table    *dataset.Table
	fileName string
	model    *predictor.Model
	touched  time.Time
}

// Upload is a snapshot of the uploaded table.
type Upload struct {
	Table    *dataset.Table
	FileName string
}

// SetUpload replaces the uploaded table. The trained model is kept.
func (s *Session) SetUpload(t *dataset.Table, fileName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = t
	s.fileName = fileName
	s.touched = time.Now()
}

// Upload returns the uploaded table, or ErrNoData when nothing was uploaded.
func (s *Session) Upload() (Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table == nil {
		return Upload{}, errors.ErrNoData
	}
	return Upload{Table: s.table, FileName: s.fileName}, nil
}

// SetModel stores a trained model.
func (s *Session) SetModel(m *predictor.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = m
	s.touched = time.Now()
}

// Model returns the session's model, or ErrNoModel.
func (s *Session) Model() (*predictor.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return nil, errors.ErrNoModel
	}
	return s.model, nil
}

// Store maps session ids to sessions.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	maxIdle  time.Duration
}

// NewStore returns an empty store. Sessions idle for longer than maxIdle
// are dropped by Prune; maxIdle <= 0 keeps them forever.
func NewStore(maxIdle time.Duration) *Store {
	return &Store{sessions: make(map[string]*Session), maxIdle: maxIdle}
}

// NewID returns a fresh session id.
func NewID() string { return uuid.NewString() }

// Get returns the session for id, creating it on a miss. An id that is not
// a UUID is replaced by a fresh one; callers must use the returned
// Session.ID.
func (st *Store) Get(id string) *Session {
	if _, err := uuid.Parse(id); err != nil {
		id = NewID()
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		s = &Session{ID: id, touched: time.Now()}
		st.sessions[id] = s
	}
	return s
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Prune drops sessions idle since before now-maxIdle and returns how many
// were removed.
func (st *Store) Prune(now time.Time) int {
	if st.maxIdle <= 0 {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	removed := 0
	for id, s := range st.sessions {
		s.mu.Lock()
		idle := now.Sub(s.touched)
		s.mu.Unlock()
		if idle > st.maxIdle {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}
