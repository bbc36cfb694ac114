package main

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwsl/rtty_rx/rtty"
)

// Session represents one attached client with its own decode chain
type Session struct {
	ID         string
	Config     rtty.Config
	Decoder    *rtty.Decoder
	Probe      *rtty.TuningProbe
	IQChan     chan []complex64
	ResultChan chan []byte
	CreatedAt  time.Time
}

// SessionManager owns the active decode sessions and fans the shared IQ
// stream out to them
type SessionManager struct {
	sampleRate  float64
	maxSessions int

	sessions map[string]*Session
	mu       sync.RWMutex

	metrics *PrometheusMetrics
}

// NewSessionManager creates a session manager for the given input rate
func NewSessionManager(sampleRate int, maxSessions int, metrics *PrometheusMetrics) *SessionManager {
	return &SessionManager{
		sampleRate:  float64(sampleRate),
		maxSessions: maxSessions,
		sessions:    make(map[string]*Session),
		metrics:     metrics,
	}
}

// Create builds and starts a decode session
func (sm *SessionManager) Create(config rtty.Config) (*Session, error) {
	sm.mu.Lock()
	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		sm.mu.Unlock()
		return nil, fmt.Errorf("session limit reached (%d)", sm.maxSessions)
	}
	sm.mu.Unlock()

	decoder, err := rtty.NewDecoder(sm.sampleRate, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	session := &Session{
		ID:         uuid.New().String(),
		Config:     config,
		Decoder:    decoder,
		Probe:      rtty.NewTuningProbe(1024),
		IQChan:     make(chan []complex64, 64),
		ResultChan: make(chan []byte, 64),
		CreatedAt:  time.Now(),
	}
	if err := decoder.Start(session.IQChan, session.ResultChan); err != nil {
		return nil, err
	}

	sm.mu.Lock()
	sm.sessions[session.ID] = session
	count := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.sessionsTotal.Inc()
		sm.metrics.activeSessions.Set(float64(count))
	}
	log.Printf("Session %s created (%d active)", session.ID, count)
	return session, nil
}

// Remove stops and discards a session
func (sm *SessionManager) Remove(id string) {
	sm.mu.Lock()
	session, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	count := len(sm.sessions)
	sm.mu.Unlock()

	if !ok {
		return
	}
	if err := session.Decoder.Stop(); err != nil {
		log.Printf("Session %s: decoder stop: %v", id, err)
	}
	if sm.metrics != nil {
		sm.metrics.activeSessions.Set(float64(count))
	}
	log.Printf("Session %s removed (%d active)", id, count)
}

// Get returns a session by ID
func (sm *SessionManager) Get(id string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	session, ok := sm.sessions[id]
	return session, ok
}

// Count returns the number of active sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// SampleRate returns the shared input sample rate
func (sm *SessionManager) SampleRate() float64 {
	return sm.sampleRate
}

// FeedIQ fans one block of baseband samples out to every session. A
// session whose channel is full loses the block rather than stalling
// the receive socket.
func (sm *SessionManager) FeedIQ(samples []complex64) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, session := range sm.sessions {
		session.Probe.Feed(samples)
		select {
		case session.IQChan <- samples:
		default:
			if sm.metrics != nil {
				sm.metrics.iqDropsTotal.Inc()
			}
		}
	}
}

// Totals sums the decode statistics across all active sessions
func (sm *SessionManager) Totals() (chars, framingErrors, parityErrors uint64) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, session := range sm.sessions {
		chars += session.Decoder.CharsDecoded()
		framingErrors += session.Decoder.FramingErrors()
		parityErrors += session.Decoder.ParityErrors()
	}
	return chars, framingErrors, parityErrors
}

// StopAll tears down every session
func (sm *SessionManager) StopAll() {
	sm.mu.Lock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()

	for _, s := range sessions {
		if err := s.Decoder.Stop(); err != nil {
			log.Printf("Session %s: decoder stop: %v", s.ID, err)
		}
	}
}
