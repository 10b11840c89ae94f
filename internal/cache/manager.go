// Package cache persists the latest successful calendar fetch and restores it
// on startup, upgrading snapshots written by older versions.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"momcal/internal/category"
	"momcal/internal/ics"
	appLog "momcal/internal/log"
	"momcal/internal/model"
)

// CurrentVersion is the schema version written by Store.
const CurrentVersion = 2

// migrations[v] upgrades a snapshot from version v to v+1.
var migrations = []func(*Manager, *model.CachedCalendarData){
	// v0: events saved before categorization existed.
	func(m *Manager, data *model.CachedCalendarData) {
		for i := range data.Events {
			if data.Events[i].CategoryKey == "" {
				data.Events[i].CategoryKey = m.categorizer.Resolve(data.Events[i])
			}
		}
	},
	// v1: info links were stored raw, or not mined from descriptions.
	func(_ *Manager, data *model.CachedCalendarData) {
		for i := range data.Events {
			data.Events[i].InfoLink = ics.ResolveInfoLink(data.Events[i])
		}
	},
}

// Manager reads and writes the snapshot under a single key.
type Manager struct {
	store       Store
	key         string
	categorizer *category.Categorizer
	now         func() time.Time
}

type Option func(*Manager)

// WithClock overrides time.Now for fetchedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store Store, key string, categorizer *category.Categorizer, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		key:         key,
		categorizer: categorizer,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store writes events with fetchedAt = now. Failures are logged and
// swallowed; the in-memory data stays authoritative.
func (m *Manager) Store(ctx context.Context, events []model.CalendarEvent) {
	data, err := json.Marshal(model.CachedCalendarData{
		Version:   CurrentVersion,
		Events:    events,
		FetchedAt: m.now(),
	})
	if err != nil {
		appLog.Error("failed to encode calendar cache", err)
		return
	}
	if err := m.store.Set(ctx, m.key, data); err != nil {
		appLog.Error("failed to write calendar cache", err, "key", m.key)
	}
}

// Load returns the stored snapshot, upgraded to CurrentVersion. Missing,
// unreadable or malformed snapshots yield (nil, false).
func (m *Manager) Load(ctx context.Context) (*model.CachedCalendarData, bool) {
	raw, err := m.store.Get(ctx, m.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			appLog.Warn("failed to read calendar cache", "key", m.key, "err", err)
		}
		return nil, false
	}

	var probe struct {
		Events    json.RawMessage `json:"events"`
		FetchedAt json.RawMessage `json:"fetchedAt"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		appLog.Info("ignoring unreadable calendar cache", "err", err)
		return nil, false
	}
	if !isArray(probe.Events) || len(probe.FetchedAt) == 0 {
		appLog.Info("ignoring malformed calendar cache")
		return nil, false
	}

	var data model.CachedCalendarData
	if err := json.Unmarshal(raw, &data); err != nil {
		appLog.Info("ignoring unreadable calendar cache", "err", err)
		return nil, false
	}
	if data.Version < 0 || data.Version > CurrentVersion {
		appLog.Info("ignoring calendar cache with unknown version", "version", data.Version)
		return nil, false
	}

	for v := data.Version; v < CurrentVersion; v++ {
		migrations[v](m, &data)
	}
	if data.Version != CurrentVersion {
		appLog.Debug("migrated calendar cache", "from", data.Version, "to", CurrentVersion)
		data.Version = CurrentVersion
	}

	valid := data.Events[:0]
	for _, ev := range data.Events {
		if !ev.Valid() {
			continue
		}
		m.derive(&ev)
		valid = append(valid, ev)
	}
	data.Events = valid
	sort.SliceStable(data.Events, func(i, j int) bool {
		return data.Events[i].Start.Before(data.Events[j].Start)
	})

	return &data, true
}

// derive fills in what every loaded event must carry regardless of the
// snapshot version: a category key and a normalized info link.
func (m *Manager) derive(ev *model.CalendarEvent) {
	if ev.CategoryKey == "" {
		ev.CategoryKey = m.categorizer.Resolve(*ev)
	}
	ev.InfoLink = ics.ResolveInfoLink(*ev)
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}
