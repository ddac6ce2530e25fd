package learning

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Sentinel errors surfaced by the store.
var (
	// ErrPhraseNotFound - the phrase key is not in the table.
	ErrPhraseNotFound = errors.New("phrase not found")

	// ErrPoisoningSuspected - promotion withheld because an anomaly detector
	// flagged the phrase. The phrase transitions to flagged, never deleted.
	ErrPoisoningSuspected = errors.New("poisoning suspected")

	// ErrApprovalRequired - human-approval mode is on and the phrase has not
	// been approved by a reviewer.
	ErrApprovalRequired = errors.New("human approval required")

	// ErrBelowPromotionThreshold - not enough sightings yet.
	ErrBelowPromotionThreshold = errors.New("below promotion threshold")

	// ErrNotPromotable - the phrase is not in a promotable status.
	ErrNotPromotable = errors.New("phrase not promotable")
)

// Config tunes the learning store.
type Config struct {
	// ExtractionThreshold is the minimum decision confidence for a confirmed
	// block to feed the learner at all.
	ExtractionThreshold float64

	// PromotionThreshold is the occurrence count required before a pending
	// phrase may be promoted to active.
	PromotionThreshold int

	// RequireApproval withholds promotion until an external reviewer has set
	// the phrase's approval flag.
	RequireApproval bool

	// EMAAlpha is the smoothing factor for the confidence moving average.
	EMAAlpha float64

	// MaxContexts bounds the per-phrase in-memory ring of recent sighting
	// contexts kept for the diversity check. Contexts are never persisted.
	MaxContexts int
}

// DefaultConfig returns the shipped tuning.
func DefaultConfig() Config {
	return Config{
		ExtractionThreshold: 0.7,
		PromotionThreshold:  3,
		RequireApproval:     false,
		EMAAlpha:            0.4,
		MaxContexts:         8,
	}
}

// Store is the adaptive learning store: the single owner and single writer of
// the phrase table. All mutation is serialized behind one writer lock; reads
// go through an atomically published immutable view and never block on a
// pending write, so the decision path cannot stall on learning contention.
type Store struct {
	cfg      Config
	detector AnomalyDetector
	persist  PhraseStore // optional durable backend
	now      func() time.Time

	mu        sync.Mutex // serializes all writes to phrases/snapshots
	phrases   map[string]*Phrase
	contexts  map[string][]string // recent sighting contexts, memory only
	snapshots []*Snapshot         // append-only, ordered by version
	version   atomic.Uint64       // version of the most recent snapshot

	view atomic.Pointer[readView]
}

// readView is the immutable published state consumed by ActiveMatches.
type readView struct {
	active map[string]*Phrase
}

// NewStore creates a learning store. detector may be nil (promotion then
// skips the poisoning gate - intended for tests only). persist may be nil for
// a memory-only store; when set, the existing phrase table and snapshot log
// are loaded from it.
func NewStore(cfg Config, detector AnomalyDetector, persist PhraseStore) (*Store, error) {
	if cfg.PromotionThreshold <= 0 {
		cfg.PromotionThreshold = DefaultConfig().PromotionThreshold
	}
	if cfg.EMAAlpha <= 0 || cfg.EMAAlpha > 1 {
		cfg.EMAAlpha = DefaultConfig().EMAAlpha
	}
	if cfg.MaxContexts <= 0 {
		cfg.MaxContexts = DefaultConfig().MaxContexts
	}
	s := &Store{
		cfg:      cfg,
		detector: detector,
		persist:  persist,
		now:      time.Now,
		phrases:  make(map[string]*Phrase),
		contexts: make(map[string][]string),
	}

	if persist != nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading learning state: %w", err)
		}
	}
	s.publish()
	return s, nil
}

func (s *Store) load() error {
	ctx := context.Background()
	phrases, err := s.persist.LoadPhrases(ctx)
	if err != nil {
		return err
	}
	for _, p := range phrases {
		s.phrases[p.Text] = p
	}
	snaps, err := s.persist.LoadSnapshots(ctx)
	if err != nil {
		return err
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Version < snaps[j].Version })
	s.snapshots = snaps
	if n := len(snaps); n > 0 {
		s.version.Store(snaps[n-1].Version)
	}
	log.Printf("[LEARN] loaded %d phrases, %d snapshots (version %d)", len(s.phrases), len(s.snapshots), s.version.Load())
	return nil
}

// publish rebuilds and swaps the read view. Caller must hold s.mu (except
// during construction).
func (s *Store) publish() {
	active := make(map[string]*Phrase)
	for key, p := range s.phrases {
		if p.Status == StatusActive {
			active[key] = p.Clone()
		}
	}
	s.view.Store(&readView{active: active})
}

// ExtractionThreshold exposes the configured learning gate for callers that
// decide whether a confirmed block should feed the learner.
func (s *Store) ExtractionThreshold() float64 {
	return s.cfg.ExtractionThreshold
}

// Record registers one sighting of a phrase from a detection channel. If the
// phrase is new, a pending record is created at the next snapshot version.
// On repeat sightings the occurrence count, last-seen time and confidence
// moving average are updated in place. blocked marks sightings that came from
// a decision that actually blocked; carrier is a short context snippet kept
// in memory for the diversity check.
func (s *Store) Record(phrase, source string, confidence float64, blocked bool, carrier string) (*Phrase, error) {
	if phrase == "" {
		return nil, fmt.Errorf("empty phrase")
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.phrases[phrase]
	if !ok {
		p = &Phrase{
			Text:              phrase,
			FirstSeen:         now,
			Status:            StatusPending,
			VersionIntroduced: s.version.Load() + 1,
			Sources:           make(map[string]bool),
		}
		s.phrases[phrase] = p
	}

	p.OccurrenceCount++
	if blocked {
		p.BlockedCount++
	}
	p.LastSeen = now
	if source != "" {
		p.Sources[source] = true
	}
	p.ConfidenceScore = s.blendConfidence(p, confidence, now)

	if carrier != "" {
		ring := append(s.contexts[phrase], carrier)
		if len(ring) > s.cfg.MaxContexts {
			ring = ring[len(ring)-s.cfg.MaxContexts:]
		}
		s.contexts[phrase] = ring
	}

	// Opportunistic poisoning screen: once a pending phrase has enough
	// sightings to matter, a suspicious growth shape flags it immediately
	// instead of waiting for a promotion attempt.
	if p.Status == StatusPending && p.OccurrenceCount >= s.cfg.PromotionThreshold {
		s.screenLocked(p)
	}

	s.publish()
	s.persistLocked(p)
	return p.Clone(), nil
}

// blendConfidence recomputes the confidence EMA. The target blends log-scaled
// occurrence volume, block ratio, source diversity, and age since first
// sighting; the reporter's own confidence seeds a new phrase.
func (s *Store) blendConfidence(p *Phrase, reported float64, now time.Time) float64 {
	if p.OccurrenceCount == 1 {
		return clamp01(reported)
	}

	// log2-scaled occurrence count, saturating around 64 sightings.
	occ := math.Log2(float64(p.OccurrenceCount)) / 6
	if occ > 1 {
		occ = 1
	}

	diversity := float64(len(p.Sources)) / 4
	if diversity > 1 {
		diversity = 1
	}

	// Signals that persist for weeks are more trustworthy than ones that
	// appeared this morning.
	age := now.Sub(p.FirstSeen).Hours() / (14 * 24)
	if age > 1 {
		age = 1
	}

	target := 0.35*occ + 0.30*p.BlockRatio() + 0.20*diversity + 0.15*age
	return clamp01(s.cfg.EMAAlpha*target + (1-s.cfg.EMAAlpha)*p.ConfidenceScore)
}

// screenLocked runs the anomaly detector against a phrase and flags it when
// suspicious. Caller must hold s.mu.
func (s *Store) screenLocked(p *Phrase) (suspicious bool, reason string) {
	if s.detector == nil {
		return false, ""
	}
	suspicious, reason = s.detector.Suspicious(p, s.contexts[p.Text])
	if suspicious {
		if err := p.transition(StatusFlagged); err == nil {
			log.Printf("[LEARN] poisoning suspected for %q: %s", p.Text, reason)
		}
	}
	return suspicious, reason
}

// Promote transitions a pending phrase to active. Promotion is the only way
// a phrase participates in future policy evaluations, and it requires the
// occurrence threshold, a clean poisoning check, and - when approval mode is
// configured - an external approval flag.
func (s *Store) Promote(phrase string) (*Phrase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.phrases[phrase]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPhraseNotFound, phrase)
	}
	if p.Status != StatusPending {
		return p.Clone(), fmt.Errorf("%w: %q is %s", ErrNotPromotable, phrase, p.Status)
	}
	if p.OccurrenceCount < s.cfg.PromotionThreshold {
		return p.Clone(), fmt.Errorf("%w: %q has %d/%d occurrences",
			ErrBelowPromotionThreshold, phrase, p.OccurrenceCount, s.cfg.PromotionThreshold)
	}
	if suspicious, reason := s.screenLocked(p); suspicious {
		s.publish()
		s.persistLocked(p)
		return p.Clone(), fmt.Errorf("%w: %q: %s", ErrPoisoningSuspected, phrase, reason)
	}
	if s.cfg.RequireApproval && !p.Approved {
		return p.Clone(), fmt.Errorf("%w: %q", ErrApprovalRequired, phrase)
	}

	if err := p.transition(StatusActive); err != nil {
		return p.Clone(), err
	}
	log.Printf("[LEARN] promoted %q (occurrences=%d confidence=%.2f)", phrase, p.OccurrenceCount, p.ConfidenceScore)
	s.publish()
	s.persistLocked(p)
	return p.Clone(), nil
}

// Approve sets the external approval flag used by human-approval mode.
func (s *Store) Approve(phrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.phrases[phrase]
	if !ok {
		return fmt.Errorf("%w: %q", ErrPhraseNotFound, phrase)
	}
	p.Approved = true
	s.persistLocked(p)
	return nil
}

// Deprecate retires a phrase from enforcement while keeping its history.
func (s *Store) Deprecate(phrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.phrases[phrase]
	if !ok {
		return fmt.Errorf("%w: %q", ErrPhraseNotFound, phrase)
	}
	if err := p.transition(StatusDeprecated); err != nil {
		return err
	}
	s.publish()
	s.persistLocked(p)
	return nil
}

func (s *Store) persistLocked(p *Phrase) {
	if s.persist == nil {
		return
	}
	if err := s.persist.SavePhrase(context.Background(), p.Clone()); err != nil {
		log.Printf("[LEARN] persist failed for %q: %v", p.Text, err)
	}
}

// ActiveMatches returns the active phrases whose normalized n-gram appears in
// text. It reads the published view without taking the writer lock, so it is
// safe on the decision path regardless of learning-store write pressure.
func (s *Store) ActiveMatches(text string) []*Phrase {
	view := s.view.Load()
	if view == nil || len(view.active) == 0 {
		return nil
	}
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}

	var matches []*Phrase
	for key, p := range view.active {
		if strings.Contains(normalized, key) {
			matches = append(matches, p.Clone())
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Text < matches[j].Text })
	return matches
}

// Get returns a copy of a phrase record.
func (s *Store) Get(phrase string) (*Phrase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.phrases[phrase]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPhraseNotFound, phrase)
	}
	return p.Clone(), nil
}

// Stats summarizes the phrase table by status.
type Stats struct {
	Total     int            `json:"total"`
	ByStatus  map[Status]int `json:"by_status"`
	Version   uint64         `json:"version"`
	Snapshots int            `json:"snapshots"`
}

// Summary returns phrase-table statistics for the operator surface.
func (s *Store) Summary() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Total:     len(s.phrases),
		ByStatus:  make(map[Status]int),
		Version:   s.version.Load(),
		Snapshots: len(s.snapshots),
	}
	for _, p := range s.phrases {
		st.ByStatus[p.Status]++
	}
	return st
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
