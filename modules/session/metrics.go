package session

import (
	"sync"
	"time"
)

// Metrics - 서버 메트릭
type Metrics struct {
	mu                 sync.RWMutex
	startTime          time.Time
	totalSessions      int
	activeSessions     int
	totalConnections   int
	activeConnections  int
	generations        int
	generationFailures int
	edits              int
	editFailures       int
}

// MetricsSnapshot - /metrics 응답
type MetricsSnapshot struct {
	Uptime             string    `json:"uptime"`
	StartTime          time.Time `json:"startTime"`
	TotalSessions      int       `json:"totalSessions"`
	ActiveSessions     int       `json:"activeSessions"`
	TotalConnections   int       `json:"totalConnections"`
	ActiveConnections  int       `json:"activeConnections"`
	Generations        int       `json:"generations"`
	GenerationFailures int       `json:"generationFailures"`
	Edits              int       `json:"edits"`
	EditFailures       int       `json:"editFailures"`
}

func newMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) sessionCreated() {
	m.mu.Lock()
	m.totalSessions++
	m.activeSessions++
	m.mu.Unlock()
}

func (m *Metrics) sessionsRemoved(n int) {
	m.mu.Lock()
	m.activeSessions -= n
	m.mu.Unlock()
}

func (m *Metrics) connectionOpened() {
	m.mu.Lock()
	m.totalConnections++
	m.activeConnections++
	m.mu.Unlock()
}

func (m *Metrics) connectionClosed() {
	m.mu.Lock()
	m.activeConnections--
	m.mu.Unlock()
}

func (m *Metrics) recordRequest(action Action, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch action {
	case ActionGenerate:
		m.generations++
		if !ok {
			m.generationFailures++
		}
	case ActionEdit:
		m.edits++
		if !ok {
			m.editFailures++
		}
	}
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSnapshot{
		Uptime:             time.Since(m.startTime).Round(time.Second).String(),
		StartTime:          m.startTime,
		TotalSessions:      m.totalSessions,
		ActiveSessions:     m.activeSessions,
		TotalConnections:   m.totalConnections,
		ActiveConnections:  m.activeConnections,
		Generations:        m.generations,
		GenerationFailures: m.generationFailures,
		Edits:              m.edits,
		EditFailures:       m.editFailures,
	}
}
