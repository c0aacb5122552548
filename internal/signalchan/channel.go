// Package signalchan carries the single latest trade recommendation between
// the signal producer and the execution coordinator. The artifact is
// overwritten in place for low-latency reads; publishing goes through a
// staging file and an atomic rename so readers never observe a torn value.
package signalchan

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/tradewarden/warden/internal/domain"
)

// Channel is a file-backed single-slot signal channel.
type Channel struct {
	path string
}

// New creates a channel at the given path, ensuring the parent directory exists.
func New(path string) (*Channel, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create signal channel dir")
		}
	}
	return &Channel{path: path}, nil
}

// Publish replaces the visible signal atomically.
func (c *Channel) Publish(signal domain.TradeSignal) error {
	if err := signal.Validate(); err != nil {
		return errors.Wrap(err, "refuse to publish malformed signal")
	}

	payload, err := json.MarshalIndent(signal, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode trade signal")
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write signal staging file")
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return errors.Wrap(err, "swap signal into place")
	}
	return nil
}

// Read returns the current signal. domain.ErrNoData is returned when nothing
// has been published yet; a decode failure means the artifact is malformed and
// must be skipped by the consumer.
func (c *Channel) Read() (*domain.TradeSignal, error) {
	payload, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrNoData
		}
		return nil, errors.Wrap(err, "read signal channel")
	}
	if len(payload) == 0 {
		return nil, domain.ErrNoData
	}

	var signal domain.TradeSignal
	if err := json.Unmarshal(payload, &signal); err != nil {
		return nil, errors.Wrap(err, "decode trade signal")
	}
	if err := signal.Validate(); err != nil {
		return nil, errors.Wrap(err, "malformed trade signal")
	}
	return &signal, nil
}
