// Package staging reads and writes the JSON files that mark the boundaries
// between pipeline stages. Writes are atomic, so a crashed stage never leaves
// a half-written file behind for the next stage to consume.
package staging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"pinharvest/internal/domain"
)

// ErrMissingInput is returned when a stage's input file does not exist.
var ErrMissingInput = errors.New("staged input file not found")

// RawPin is one record of the raw staged file. It stays loosely typed so
// that malformed values survive until the cleaner coerces them.
type RawPin map[string]any

// Write stores v as indented JSON at path.
func Write(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// WritePins stores pins, writing an empty array rather than null.
func WritePins(path string, pins []domain.Pin) error {
	if pins == nil {
		pins = []domain.Pin{}
	}
	return Write(path, pins)
}

// ReadRaw loads the raw staged file. Array elements that are not objects
// come back as empty records and are left to the cleaner to discard.
func ReadRaw(path string) ([]RawPin, error) {
	var elems []any
	if err := read(path, &elems); err != nil {
		return nil, err
	}
	records := make([]RawPin, 0, len(elems))
	for _, e := range elems {
		obj, _ := e.(map[string]any)
		records = append(records, RawPin(obj))
	}
	return records, nil
}

// ReadPins loads the cleaned staged file.
func ReadPins(path string) ([]domain.Pin, error) {
	var pins []domain.Pin
	if err := read(path, &pins); err != nil {
		return nil, err
	}
	return pins, nil
}

func read(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrMissingInput, path)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
