package monitor

import (
	"sort"
	"time"

	"github.com/teslashibe/fallwatch/pkg/fall"
)

// CameraSource names frames captured by the local camera.
const CameraSource = "camera"

// defaultSource is used for observations submitted without a source name.
const defaultSource = "default"

// SourceStatus is the detection state of one input source.
type SourceStatus struct {
	ID string `json:"id"`
	fall.Status
	LastSeen time.Time `json:"last_seen"`
}

// source holds the detection state of one frame feed. Frames from
// different feeds never share a debounce run, cooldown or baseline.
type source struct {
	id       string
	coord    *fall.Coordinator
	lastSeen time.Time
	jpeg     []byte
}

// source returns the state for id, creating it on first use. Loop only.
func (m *Monitor) source(id string) (*source, error) {
	if id == "" {
		id = defaultSource
	}
	if s, ok := m.sources[id]; ok {
		return s, nil
	}
	coord, err := fall.NewCoordinator(m.cfg.Detection, nil, m.logger.With("source", id))
	if err != nil {
		return nil, err
	}
	s := &source{id: id, coord: coord}
	m.sources[id] = s
	m.logger.Info("source added", "source", id, "sources", len(m.sources))
	return s, nil
}

// targets resolves a command's sources: one named source, or all of them
// when id is empty.
func (m *Monitor) targets(id string) ([]*source, error) {
	if id != "" {
		s, ok := m.sources[id]
		if !ok {
			return nil, unknownSource(id)
		}
		return []*source{s}, nil
	}
	out := make([]*source, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}

// evictIdle drops sources that have been silent for SourceIdle. Calibrated
// sources and the most recent one are kept.
func (m *Monitor) evictIdle(now time.Time) {
	for id, s := range m.sources {
		if id == m.active || now.Sub(s.lastSeen) < m.cfg.SourceIdle {
			continue
		}
		if s.coord.Status().Calibrated {
			continue
		}
		delete(m.sources, id)
		m.logger.Info("source evicted", "source", id, "idle", now.Sub(s.lastSeen).Round(time.Second))
	}
}

func (m *Monitor) sourceStatuses() []SourceStatus {
	list, _ := m.targets("")
	out := make([]SourceStatus, len(list))
	for i, s := range list {
		out[i] = SourceStatus{ID: s.id, Status: s.coord.Status(), LastSeen: s.lastSeen}
	}
	return out
}
