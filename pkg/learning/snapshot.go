package learning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSnapshotNotFound - no snapshot exists at the requested version.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrRollbackTargetCorrupt - the target snapshot failed its integrity
	// check. Rollback is refused outright and current state is untouched;
	// partial rollback is never performed.
	ErrRollbackTargetCorrupt = errors.New("rollback target corrupt")
)

// Snapshot is an immutable point-in-time export of the full phrase table,
// tagged with a monotonically increasing version. Snapshots are retained
// until explicitly pruned and form an append-only log.
type Snapshot struct {
	Version   uint64    `json:"version"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Phrases   []*Phrase `json:"phrases"` // sorted by phrase text
	Checksum  string    `json:"checksum"`
}

// computeChecksum hashes the canonical encoding of the snapshot's phrase
// records. Verified before any rollback.
func computeChecksum(phrases []*Phrase) (string, error) {
	data, err := json.Marshal(phrases)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the checksum and compares it to the stored one.
func (sn *Snapshot) Verify() error {
	sum, err := computeChecksum(sn.Phrases)
	if err != nil {
		return err
	}
	if sum != sn.Checksum {
		return fmt.Errorf("%w: version %d checksum mismatch", ErrRollbackTargetCorrupt, sn.Version)
	}
	return nil
}

// TableBytes returns the canonical serialization of the snapshot's live
// phrase table: every non-deprecated record, sorted by phrase text.
// Rollback to version v followed by a fresh snapshot reproduces these bytes
// exactly - that equality is the rollback correctness check used in audits.
func (sn *Snapshot) TableBytes() ([]byte, error) {
	var live []*Phrase
	for _, p := range sn.Phrases {
		if p.Status != StatusDeprecated {
			live = append(live, p)
		}
	}
	return json.Marshal(live)
}

// Snapshot serializes the full current phrase table under a new version id
// and appends it to the snapshot log.
func (s *Store) Snapshot() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	phrases := make([]*Phrase, 0, len(s.phrases))
	for _, p := range s.phrases {
		phrases = append(phrases, p.Clone())
	}
	sort.Slice(phrases, func(i, j int) bool { return phrases[i].Text < phrases[j].Text })

	checksum, err := computeChecksum(phrases)
	if err != nil {
		return nil, fmt.Errorf("snapshot checksum: %w", err)
	}

	sn := &Snapshot{
		Version:   s.version.Load() + 1,
		ID:        uuid.NewString(),
		CreatedAt: s.now(),
		Phrases:   phrases,
		Checksum:  checksum,
	}
	s.snapshots = append(s.snapshots, sn)
	s.version.Store(sn.Version)

	if s.persist != nil {
		if err := s.persist.AppendSnapshot(context.Background(), sn); err != nil {
			log.Printf("[LEARN] snapshot %d persist failed: %v", sn.Version, err)
		}
	}
	log.Printf("[LEARN] snapshot %d taken (%d phrases)", sn.Version, len(phrases))
	return sn, nil
}

// Snapshots lists the snapshot log metadata (without phrase payloads).
func (s *Store) Snapshots() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, len(s.snapshots))
	for i, sn := range s.snapshots {
		out[i] = Snapshot{Version: sn.Version, ID: sn.ID, CreatedAt: sn.CreatedAt, Checksum: sn.Checksum}
	}
	return out
}

// Rollback restores the phrase table to the state captured at version.
// Every phrase introduced after the target version is deprecated (never
// deleted), and every phrase that existed at that version has its exact
// prior field values restored. The target snapshot's integrity is verified
// first; on any failure the current state is left untouched.
func (s *Store) Rollback(version uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *Snapshot
	for _, sn := range s.snapshots {
		if sn.Version == version {
			target = sn
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: version %d", ErrSnapshotNotFound, version)
	}
	if err := target.Verify(); err != nil {
		return err
	}

	restored := make(map[string]bool, len(target.Phrases))
	for _, prior := range target.Phrases {
		s.phrases[prior.Text] = prior.Clone()
		restored[prior.Text] = true
	}
	for key, p := range s.phrases {
		if !restored[key] {
			// Introduced after the target version. Status moves to
			// deprecated directly: rollback is the one sanctioned
			// out-of-band transition.
			p.Status = StatusDeprecated
		}
	}

	s.publish()
	if s.persist != nil {
		ctx := context.Background()
		for _, p := range s.phrases {
			if err := s.persist.SavePhrase(ctx, p.Clone()); err != nil {
				log.Printf("[LEARN] rollback persist failed for %q: %v", p.Text, err)
			}
		}
	}
	log.Printf("[LEARN] rolled back to version %d (%d phrases restored)", version, len(restored))
	return nil
}
