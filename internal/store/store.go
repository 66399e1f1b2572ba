// Package store persists the session archive and the standing
// verification token.
//
// Persistence is best-effort: the monitor keeps running when a backend
// fails. Backends implement Store and are composed into a Chain that
// tries each in order until one succeeds.
package store

import (
	"errors"

	"github.com/willchan-117/human-verifier/internal/session"
)

// Errors.
var (
	// ErrEmpty is returned when no archive has been persisted yet.
	ErrEmpty = errors.New("store: no archive")
	// ErrAllBackendsFailed is returned when every backend in a chain fails.
	ErrAllBackendsFailed = errors.New("store: all backends failed")
)

// Store persists the session archive.
type Store interface {
	// SaveArchive persists the full archive.
	SaveArchive(a *session.Archive) error

	// LoadArchive returns the persisted archive, or ErrEmpty.
	LoadArchive() (*session.Archive, error)

	// Close releases backend resources.
	Close() error
}

// Chain tries each backend in order until one succeeds. Save failures on
// earlier backends are collected but only surfaced when every backend
// fails.
type Chain struct {
	backends []Store
}

// NewChain composes backends into an ordered fallback chain.
func NewChain(backends ...Store) *Chain {
	return &Chain{backends: backends}
}

// SaveArchive writes to the first backend that accepts the archive.
func (c *Chain) SaveArchive(a *session.Archive) error {
	var errs []error
	for _, b := range c.backends {
		if err := b.SaveArchive(a); err != nil {
			errs = append(errs, err)
			continue
		}
		return nil
	}
	errs = append(errs, ErrAllBackendsFailed)
	return errors.Join(errs...)
}

// LoadArchive returns the archive from the first backend that has one.
func (c *Chain) LoadArchive() (*session.Archive, error) {
	var errs []error
	for _, b := range c.backends {
		a, err := b.LoadArchive()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return a, nil
	}
	if len(errs) == 0 {
		return nil, ErrEmpty
	}
	return nil, errors.Join(errs...)
}

// Close closes every backend, returning the last error.
func (c *Chain) Close() error {
	var lastErr error
	for _, b := range c.backends {
		if err := b.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
