// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"sort"
	"time"
)

// DefaultCleanupInterval is used by RunCleanup when no interval is given.
const DefaultCleanupInterval = 5 * time.Minute

// CleanupInactive disconnects every live session idle for longer than maxIdle
// and returns the evicted client IDs. Credentials are kept, so an evicted
// client reconnects without pairing again on its next Acquire.
func (m *Manager) CleanupInactive(ctx context.Context, maxIdle time.Duration) []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	removed := make([]string, 0)
	for _, id := range ids {
		evicted := m.teardown(ctx, id, false, KindEvicted, func(st *projection) bool {
			return m.clock.Now().Sub(st.lastActivity) <= maxIdle
		})
		if evicted {
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		m.log.Info().
			Strs("client_ids", removed).
			Dur("max_idle", maxIdle).
			Msg("Evicted idle sessions")
	}
	return removed
}

// RunCleanup runs CleanupInactive every interval until ctx is done.
func (m *Manager) RunCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	m.log.Info().
		Dur("interval", interval).
		Dur("max_idle", maxIdle).
		Msg("Starting idle session cleanup loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("Idle session cleanup stopped")
			return
		case <-ticker.C:
			m.CleanupInactive(ctx, maxIdle)
		}
	}
}
