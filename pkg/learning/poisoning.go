package learning

import (
	"fmt"
	"time"
)

// AnomalyDetector is the pluggable poisoning-check contract. The exact
// numeric definition of "anomalous" is an open research question, so each
// heuristic lives behind this interface and can be tested and swapped
// independently. A suspicious verdict flags the phrase - it is never
// silently dropped.
type AnomalyDetector interface {
	// Name identifies the detector in audit events.
	Name() string

	// Suspicious examines a phrase and its recent sighting contexts and
	// reports whether the phrase looks like a poisoning attempt, with a
	// human-readable reason.
	Suspicious(p *Phrase, contexts []string) (bool, string)
}

// RateAnomalyConfig tunes the growth-rate heuristic.
type RateAnomalyConfig struct {
	// MinOccurrences below which the detector stays silent; a handful of
	// sightings is not enough evidence either way.
	MinOccurrences int

	// MaxPerDay is the occurrence growth rate above which a phrase is
	// implausibly hot for organic attack traffic.
	MaxPerDay float64

	// MinBlockRatio is the blocked/occurrence ratio below which a
	// frequently-seen phrase is suspect: many sightings that never produced
	// a real block is the classic poisoning shape.
	MinBlockRatio float64
}

// DefaultRateAnomalyConfig matches the behavior the engine ships with.
func DefaultRateAnomalyConfig() RateAnomalyConfig {
	return RateAnomalyConfig{
		MinOccurrences: 8,
		MaxPerDay:      10,
		MinBlockRatio:  0.1,
	}
}

// RateAnomalyDetector flags phrases whose occurrence count grows implausibly
// fast relative to their blocked count.
type RateAnomalyDetector struct {
	cfg RateAnomalyConfig
	now func() time.Time
}

// NewRateAnomalyDetector creates the detector. Zero-value config fields fall
// back to defaults.
func NewRateAnomalyDetector(cfg RateAnomalyConfig) *RateAnomalyDetector {
	def := DefaultRateAnomalyConfig()
	if cfg.MinOccurrences <= 0 {
		cfg.MinOccurrences = def.MinOccurrences
	}
	if cfg.MaxPerDay <= 0 {
		cfg.MaxPerDay = def.MaxPerDay
	}
	if cfg.MinBlockRatio <= 0 {
		cfg.MinBlockRatio = def.MinBlockRatio
	}
	return &RateAnomalyDetector{cfg: cfg, now: time.Now}
}

func (d *RateAnomalyDetector) Name() string { return "rate_anomaly" }

// Suspicious implements AnomalyDetector.
func (d *RateAnomalyDetector) Suspicious(p *Phrase, _ []string) (bool, string) {
	if p.OccurrenceCount < d.cfg.MinOccurrences {
		return false, ""
	}

	if p.BlockedCount == 0 {
		return true, fmt.Sprintf("%d sightings with zero confirmed blocks", p.OccurrenceCount)
	}

	age := d.now().Sub(p.FirstSeen)
	if age < time.Hour {
		age = time.Hour // avoid dividing by a near-zero age
	}
	perDay := float64(p.OccurrenceCount) / age.Hours() * 24

	if perDay > d.cfg.MaxPerDay && p.BlockRatio() < d.cfg.MinBlockRatio {
		return true, fmt.Sprintf("%.1f sightings/day with block ratio %.2f", perDay, p.BlockRatio())
	}
	return false, ""
}

// multiDetector runs several detectors in order; the first suspicious verdict
// wins.
type multiDetector struct {
	detectors []AnomalyDetector
}

// MultiDetector combines detectors into one. Nil entries are skipped.
func MultiDetector(detectors ...AnomalyDetector) AnomalyDetector {
	m := &multiDetector{}
	for _, d := range detectors {
		if d != nil {
			m.detectors = append(m.detectors, d)
		}
	}
	return m
}

func (m *multiDetector) Name() string { return "multi" }

func (m *multiDetector) Suspicious(p *Phrase, contexts []string) (bool, string) {
	for _, d := range m.detectors {
		if sus, reason := d.Suspicious(p, contexts); sus {
			return true, fmt.Sprintf("%s: %s", d.Name(), reason)
		}
	}
	return false, ""
}
