// Package session holds the enrollment credential for one console instance.
//
// A Session is the explicit auth context handed to the telemetry client, the enrollment
// protocol and the synchronizer. It caches the credential and device id in memory and
// mirrors them in a Store under fixed keys, so several independent sessions can coexist
// in one process (each with its own store).
//
// The credential is written once on successful enrollment and removed on rotation; it
// is never modified in place. Listeners registered with OnChange learn about both
// transitions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mosiko1234/cfa/console/internal/logger"
	"github.com/mosiko1234/cfa/console/internal/store"
)

// Storage keys; both are always written and removed together
const (
	CredentialKey = "cfa_api_key"
	DeviceIDKey   = "cfa_device_id"
)

// ErrEmptyCredential is returned when saving a blank credential
var ErrEmptyCredential = errors.New("credential cannot be empty")

// Listener is notified after the enrolled state changes
type Listener func(enrolled bool)

// Session is a credential holder backed by a Store
type Session struct {
	store      store.Store
	credential string
	deviceID   string
	listeners  []Listener
	logger     *logger.Logger
	mu         sync.RWMutex
}

// New creates a session over s. Call Load to pick up a previously stored credential.
func New(s store.Store) *Session {
	return &Session{
		store:  s,
		logger: logger.NewComponentLogger("Session"),
	}
}

// Load reads the credential and device id from the store
func (s *Session) Load(ctx context.Context) error {
	credential, err := s.read(ctx, CredentialKey)
	if err != nil {
		return err
	}
	deviceID, err := s.read(ctx, DeviceIDKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	was := s.credential != ""
	s.credential = credential
	s.deviceID = deviceID
	now := s.credential != ""
	s.mu.Unlock()

	if now {
		s.logger.Info("Loaded stored credential for %s", deviceID)
	}
	if was != now {
		s.notify(now)
	}
	return nil
}

// Refresh re-reads the store and reports whether the session is still enrolled. It
// notices credentials removed by another process.
func (s *Session) Refresh(ctx context.Context) (bool, error) {
	if err := s.Load(ctx); err != nil {
		return s.Enrolled(), err
	}
	return s.Enrolled(), nil
}

func (s *Session) read(ctx context.Context, key string) (string, error) {
	value, err := s.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return string(value), nil
}

// Credential returns the bearer credential, or "" when not enrolled
func (s *Session) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential
}

// DeviceID returns the derived device id, or ""
func (s *Session) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// Enrolled reports whether a credential is present
func (s *Session) Enrolled() bool {
	return s.Credential() != ""
}

// Save persists a freshly issued credential and device id together
func (s *Session) Save(ctx context.Context, credential, deviceID string) error {
	if credential == "" {
		return ErrEmptyCredential
	}

	err := s.store.Batch(ctx, []store.Op{
		store.SetOp(CredentialKey, []byte(credential)),
		store.SetOp(DeviceIDKey, []byte(deviceID)),
	})
	if err != nil {
		return fmt.Errorf("failed to persist credential: %w", err)
	}

	s.mu.Lock()
	s.credential = credential
	s.deviceID = deviceID
	s.mu.Unlock()

	s.logger.Info("Credential stored for %s", deviceID)
	s.notify(true)
	return nil
}

// Rotate deletes the credential and device id, forcing a new enrollment
func (s *Session) Rotate(ctx context.Context) error {
	err := s.store.Batch(ctx, []store.Op{
		store.DeleteOp(CredentialKey),
		store.DeleteOp(DeviceIDKey),
	})
	if err != nil {
		return fmt.Errorf("failed to remove credential: %w", err)
	}

	s.mu.Lock()
	was := s.credential != ""
	s.credential = ""
	s.deviceID = ""
	s.mu.Unlock()

	s.logger.Info("Credential rotated; re-enrollment required")
	if was {
		s.notify(false)
	}
	return nil
}

// OnChange registers a listener for enrollment transitions
func (s *Session) OnChange(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *Session) notify(enrolled bool) {
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, l := range listeners {
		l(enrolled)
	}
}
