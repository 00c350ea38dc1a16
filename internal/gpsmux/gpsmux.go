// Package gpsmux provides an abstraction over a stream of GPS position fixes
// with the ability for multiple clients to subscribe to fixes and source
// failures from a single underlying port.
package gpsmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/gps.report/internal/geo"
	"github.com/banshee-data/gps.report/internal/monitoring"
	"github.com/banshee-data/gps.report/internal/timeutil"
)

// ErrorCode classifies a position source failure.
type ErrorCode string

const (
	// ErrPermissionDenied means the process may not read the position source.
	ErrPermissionDenied ErrorCode = "permission_denied"
	// ErrPositionUnavailable means the source has no usable position.
	ErrPositionUnavailable ErrorCode = "position_unavailable"
	// ErrTimeout means no fix arrived within the subscriber's timeout.
	ErrTimeout ErrorCode = "timeout"
	// ErrUnknown covers everything else.
	ErrUnknown ErrorCode = "unknown"
)

// SourceError is a classified, non-fatal position source failure.
type SourceError struct {
	Code    ErrorCode
	Message string
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Update is one delivery to a subscriber: either a fix or a failure.
type Update struct {
	Fix *geo.Fix
	Err *SourceError
}

// Config holds per-subscription options. The zero value is normalized to the
// defaults below on Subscribe.
type Config struct {
	// HighAccuracy requests the most precise position the source offers.
	HighAccuracy bool

	// Timeout is how long to wait without a fix before delivering a
	// timeout failure to the subscriber.
	Timeout time.Duration

	// MaxFixAge is the oldest fix timestamp the subscriber will accept.
	// Older fixes are dropped before delivery.
	MaxFixAge time.Duration
}

// DefaultConfig matches the session subscription options.
func DefaultConfig() Config {
	return Config{
		HighAccuracy: true,
		Timeout:      10 * time.Second,
		MaxFixAge:    time.Second,
	}
}

func (c Config) normalize() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxFixAge <= 0 {
		c.MaxFixAge = time.Second
	}
	return c
}

// Source is the subscription surface consumed by the tracking session.
type Source interface {
	// Subscribe creates a new channel for receiving fix and failure
	// updates. The returned ID identifies the channel when unsubscribing.
	Subscribe(cfg Config) (string, <-chan Update)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
}

// Porter is the minimal port surface the mux reads NMEA sentences from.
type Porter interface {
	io.ReadCloser
}

// subscriberBuffer is the per-subscriber channel depth. Deliveries to a full
// channel are dropped, never blocked on.
const subscriberBuffer = 16

type subscriber struct {
	cfg       Config
	ch        chan Update
	lastFixAt time.Time
	timedOut  bool
}

// Mux fans position updates from a single port out to any number of
// subscribers.
type Mux[T Porter] struct {
	port  T
	clock timeutil.Clock

	subscribers  map[string]*subscriber
	subscriberMu sync.Mutex

	// lastAccuracyM carries the most recent GGA-derived accuracy onto
	// RMC-derived fixes.
	lastAccuracyM *float64

	closing   bool
	closingMu sync.Mutex
}

// NewMux creates a Mux instance backed by the given port.
func NewMux[T Porter](port T) *Mux[T] {
	return &Mux[T]{
		port:        port,
		clock:       timeutil.RealClock{},
		subscribers: make(map[string]*subscriber),
	}
}

// SetClock replaces the mux clock. Tests use this to control staleness and
// timeout classification.
func (m *Mux[T]) SetClock(c timeutil.Clock) {
	m.clock = c
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new subscriber with the given options.
func (m *Mux[T]) Subscribe(cfg Config) (string, <-chan Update) {
	id := randomID()
	sub := &subscriber{
		cfg:       cfg.normalize(),
		ch:        make(chan Update, subscriberBuffer),
		lastFixAt: m.clock.Now(),
	}
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	m.subscribers[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a subscriber from the mux. The subscriber's channel is
// closed; no update is delivered on it afterwards.
func (m *Mux[T]) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if sub, ok := m.subscribers[id]; ok {
		close(sub.ch)
		delete(m.subscribers, id)
	}
}

// Monitor reads NMEA sentences from the port and fans the resulting fixes and
// failures out to subscribers. It returns when ctx is cancelled or the port
// becomes unreadable.
func (m *Mux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(m.port)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
		}
	}()

	housekeeping := m.clock.NewTicker(time.Second)
	defer housekeeping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if m.isClosing() {
						return nil
					}
					m.broadcastError(classifyReadError(err))
					return fmt.Errorf("position source read failed: %w", err)
				default:
					return nil
				}
			}
			m.handleLine(line)

		case <-housekeeping.C():
			m.checkTimeouts()
		}
	}
}

func (m *Mux[T]) handleLine(line string) {
	s, err := ParseSentence(line)
	if err != nil {
		if !errors.Is(err, errIgnoredSentence) {
			monitoring.Logf("gpsmux: skipping sentence: %v", err)
		}
		return
	}

	switch s.Kind {
	case SentenceGGA:
		if s.AccuracyM != nil {
			m.lastAccuracyM = s.AccuracyM
		}
		if !s.Valid {
			m.broadcastError(&SourceError{
				Code:    ErrPositionUnavailable,
				Message: "no position fix",
			})
		}
	case SentenceRMC:
		if !s.Valid {
			m.broadcastError(&SourceError{
				Code:    ErrPositionUnavailable,
				Message: "receiver reports void fix",
			})
			return
		}
		fix := s.Fix
		if fix.AccuracyM == nil {
			fix.AccuracyM = m.lastAccuracyM
		}
		m.broadcastFix(fix)
	}
}

// broadcastFix delivers a fix to every subscriber whose staleness bound it
// satisfies. Deliveries never block; a full subscriber drops the update.
func (m *Mux[T]) broadcastFix(fix geo.Fix) {
	now := m.clock.Now()
	age := now.Sub(time.UnixMilli(fix.TimestampMs))

	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	for id, sub := range m.subscribers {
		if age > sub.cfg.MaxFixAge {
			monitoring.Logf("gpsmux: dropping stale fix (age %v) for subscriber %s", age, id)
			continue
		}
		sub.lastFixAt = now
		sub.timedOut = false
		f := fix
		select {
		case sub.ch <- Update{Fix: &f}:
		default:
			monitoring.Logf("gpsmux: subscriber %s full, dropping fix", id)
		}
	}
}

func (m *Mux[T]) broadcastError(serr *SourceError) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	for id, sub := range m.subscribers {
		select {
		case sub.ch <- Update{Err: serr}:
		default:
			monitoring.Logf("gpsmux: subscriber %s full, dropping error", id)
		}
	}
}

// checkTimeouts delivers a single timeout failure to each subscriber that has
// not seen a fix within its configured window. The flag resets when the next
// fix arrives so recovery re-arms the timeout.
func (m *Mux[T]) checkTimeouts() {
	now := m.clock.Now()

	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	for id, sub := range m.subscribers {
		if sub.timedOut || now.Sub(sub.lastFixAt) < sub.cfg.Timeout {
			continue
		}
		sub.timedOut = true
		serr := &SourceError{
			Code:    ErrTimeout,
			Message: fmt.Sprintf("no fix for %v", sub.cfg.Timeout),
		}
		select {
		case sub.ch <- Update{Err: serr}:
		default:
			monitoring.Logf("gpsmux: subscriber %s full, dropping timeout", id)
		}
	}
}

func (m *Mux[T]) isClosing() bool {
	m.closingMu.Lock()
	defer m.closingMu.Unlock()
	return m.closing
}

// Close closes all subscribed channels and closes the underlying port.
func (m *Mux[T]) Close() error {
	m.closingMu.Lock()
	if m.closing {
		m.closingMu.Unlock()
		return nil
	}
	m.closing = true
	m.closingMu.Unlock()

	m.subscriberMu.Lock()
	for id, sub := range m.subscribers {
		close(sub.ch)
		delete(m.subscribers, id)
	}
	m.subscriberMu.Unlock()

	return m.port.Close()
}

// classifyReadError maps a port read failure onto the source error taxonomy.
func classifyReadError(err error) *SourceError {
	switch {
	case errors.Is(err, os.ErrPermission):
		return &SourceError{Code: ErrPermissionDenied, Message: err.Error()}
	case errors.Is(err, os.ErrDeadlineExceeded):
		return &SourceError{Code: ErrTimeout, Message: err.Error()}
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.ErrClosedPipe):
		return &SourceError{Code: ErrPositionUnavailable, Message: err.Error()}
	default:
		return &SourceError{Code: ErrUnknown, Message: err.Error()}
	}
}
