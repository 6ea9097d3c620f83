package store

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when a paste doesn't exist or has expired.
var ErrNotFound = errors.New("paste not found")

// File is one file of a stored paste.
type File struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Record is a stored paste.
type Record struct {
	ID            string     `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	Expires       *time.Time `json:"expires,omitempty"`
	Password      string     `json:"password,omitempty"`
	SecurityToken string     `json:"security_token"`
	Owner         string     `json:"owner,omitempty"`
	Views         int        `json:"views"`
	Files         []File     `json:"files"`
}

func (r *Record) expired(now time.Time) bool {
	return r.Expires != nil && !now.Before(*r.Expires)
}

// Store defines the interface for paste storage operations.
type Store interface {
	// View retrieves a paste by ID and counts one view. Returns ErrNotFound
	// if it doesn't exist.
	View(id string) (*Record, error)
	// Create attempts to store a paste under rec.ID.
	// Returns true if created, false if the ID already exists (collision).
	Create(rec *Record) (bool, error)
	// DeleteByToken removes the paste issued with token.
	// Returns ErrNotFound for unknown tokens.
	DeleteByToken(token string) error
	// ListByOwner returns the pastes created with the given owner token,
	// oldest first.
	ListByOwner(owner string) ([]*Record, error)
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	pastes  map[string]*Record
	byToken map[string]string
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		pastes:  make(map[string]*Record),
		byToken: make(map[string]string),
		now:     time.Now,
	}
}

// View retrieves a paste by ID.
func (s *MemoryStore) View(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.pastes[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.expired(s.now()) {
		s.remove(rec)
		return nil, ErrNotFound
	}
	rec.Views++
	cp := *rec
	return &cp, nil
}

// Create stores a paste unless its ID is taken.
func (s *MemoryStore) Create(rec *Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.pastes[rec.ID]; ok {
		if !old.expired(s.now()) {
			return false, nil
		}
		s.remove(old)
	}
	cp := *rec
	s.pastes[rec.ID] = &cp
	s.byToken[rec.SecurityToken] = rec.ID
	return true, nil
}

// DeleteByToken removes the paste issued with token.
func (s *MemoryStore) DeleteByToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byToken[token]
	if !ok {
		return ErrNotFound
	}
	if rec, ok := s.pastes[id]; ok {
		s.remove(rec)
	}
	return nil
}

// ListByOwner returns the owner's live pastes.
func (s *MemoryStore) ListByOwner(owner string) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []*Record
	for _, rec := range s.pastes {
		if rec.Owner == owner && !rec.expired(now) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) remove(rec *Record) {
	delete(s.pastes, rec.ID)
	delete(s.byToken, rec.SecurityToken)
}

func sortByCreated(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}

// ParseRedisURI parses a Redis URI in the form "host:port" and returns host and port separately.
// This is needed because the rate limiter package takes host and port as separate config fields.
func ParseRedisURI(uri string) (host string, port int) {
	host = "localhost"
	port = 6379

	if uri == "" {
		return
	}

	parts := strings.Split(uri, ":")
	if len(parts) >= 1 && parts[0] != "" {
		host = parts[0]
	}
	if len(parts) >= 2 {
		if p, err := strconv.Atoi(parts[1]); err == nil {
			port = p
		}
	}
	return
}
