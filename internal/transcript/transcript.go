// Package transcript collects per-image field readings for one specimen
// between the transcription and consolidation stages.
package transcript

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/entolabel/specimen-digitizer/internal/cache"
)

// Observation is one field reading from one label image.
type Observation struct {
	ImageID    string  `json:"imageId"`
	Position   string  `json:"position"`
	Field      string  `json:"field"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Store holds the observations of a single specimen. Safe for concurrent
// Add calls from image workers.
type Store struct {
	specimenID string

	mu      sync.RWMutex
	byField map[string][]Observation
	images  []string
	seen    map[string]struct{} // imageID+"\x00"+field pairs already added
}

func NewStore(specimenID string) *Store {
	return &Store{
		specimenID: specimenID,
		byField:    make(map[string][]Observation),
		seen:       make(map[string]struct{}),
	}
}

func (s *Store) SpecimenID() string {
	return s.specimenID
}

// Add records an observation. Readings with no text are dropped: an image in
// which the model found nothing for a field is absent evidence, not evidence
// of an empty value. A second reading of the same field from the same image
// is ignored, keeping the first. Reports whether the observation was kept.
func (s *Store) Add(obs Observation) bool {
	if strings.TrimSpace(obs.Text) == "" {
		return false
	}
	if obs.ImageID == "" || obs.Field == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dupeKey := obs.ImageID + "\x00" + obs.Field
	if _, dup := s.seen[dupeKey]; dup {
		return false
	}
	s.seen[dupeKey] = struct{}{}
	s.byField[obs.Field] = append(s.byField[obs.Field], obs)

	known := false
	for _, id := range s.images {
		if id == obs.ImageID {
			known = true
			break
		}
	}
	if !known {
		s.images = append(s.images, obs.ImageID)
	}
	return true
}

// Field returns the observations for one field in insertion order.
func (s *Store) Field(field string) []Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Observation(nil), s.byField[field]...)
}

// Fields returns the names of all observed fields, sorted.
func (s *Store) Fields() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields := make([]string, 0, len(s.byField))
	for f := range s.byField {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Images returns the IDs of images that contributed at least one observation,
// in first-seen order.
func (s *Store) Images() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.images...)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, obs := range s.byField {
		n += len(obs)
	}
	return n
}

// Fingerprint returns a content address of every held observation. Two
// stores with the same observations fingerprint identically regardless of
// the order they were filled in.
func (s *Store) Fingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]Observation, 0)
	for _, obs := range s.byField {
		all = append(all, obs...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Field != all[j].Field {
			return all[i].Field < all[j].Field
		}
		return all[i].ImageID < all[j].ImageID
	})

	parts := make([][]byte, 0, len(all)*6+1)
	parts = append(parts, []byte(s.specimenID))
	for _, o := range all {
		parts = append(parts,
			[]byte(o.Field),
			[]byte(o.ImageID),
			[]byte(o.Position),
			[]byte(o.Text),
			[]byte(strconv.FormatFloat(o.Confidence, 'g', -1, 64)),
			[]byte(o.Source),
		)
	}
	return cache.Fingerprint(parts...)
}
