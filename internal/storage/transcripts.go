package storage

import (
	"time"

	"github.com/codebuildervaibhav/audio-relay/internal/types"
)

// TranscriptStore keeps completed transcripts in memory.
type TranscriptStore struct {
	store *ExpiringStore[types.Transcript]
	ttl   time.Duration
}

func NewTranscriptStore(ttl time.Duration) *TranscriptStore {
	return &TranscriptStore{
		store: NewExpiringStore[types.Transcript]("transcript"),
		ttl:   ttl,
	}
}

func (s *TranscriptStore) Store() *ExpiringStore[types.Transcript] {
	return s.store
}

// Save stamps CreatedAt and ExpiresAt and stores tr.
func (s *TranscriptStore) Save(tr types.Transcript) types.Transcript {
	now := s.store.now()
	tr.CreatedAt = now
	tr.ExpiresAt = now.Add(s.ttl)
	s.store.Put(tr.ID, tr)
	return tr
}

func (s *TranscriptStore) Get(id string) (types.Transcript, error) {
	return s.store.Get(id)
}

// SetArchiveURL attaches an external archive link to a stored transcript.
func (s *TranscriptStore) SetArchiveURL(id, url string) error {
	_, err := s.store.Update(id, func(tr *types.Transcript) error {
		tr.ArchiveURL = url
		return nil
	})
	return err
}

func (s *TranscriptStore) Remove(id string) {
	s.store.Remove(id)
}

func (s *TranscriptStore) Sweep() int {
	return s.store.Sweep()
}
