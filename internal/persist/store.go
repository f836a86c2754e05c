package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"nomo/internal/logging"
)

// Outcome reports how Load produced its value.
type Outcome int

const (
	// Loaded: current-version document decoded and validated.
	Loaded Outcome = iota
	// Migrated: older document upgraded through the migration chain.
	Migrated
	// Recovered: value rebuilt from a legacy key.
	Recovered
	// NotFound: nothing stored; default returned.
	NotFound
	// Reset: stored data was unusable; default returned.
	Reset
)

func (o Outcome) String() string {
	switch o {
	case Loaded:
		return "loaded"
	case Migrated:
		return "migrated"
	case Recovered:
		return "recovered"
	case NotFound:
		return "not_found"
	case Reset:
		return "reset"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// document is the on-disk envelope of every slice.
type document struct {
	Version int             `json:"version"`
	State   json.RawMessage `json:"state"`
}

// Migration upgrades a state document from version From to From+1.
type Migration struct {
	From int
	Up   func(state json.RawMessage) (json.RawMessage, error)
}

// LegacySource recovers state from a key written by an older client.
// Decode turns the raw legacy blob into a current-version state document.
type LegacySource struct {
	Key    string
	Decode func(raw []byte) (json.RawMessage, error)
}

// Schema describes one persisted slice.
type Schema[T any] struct {
	Slice      string // unnamespaced name, e.g. "currency"
	Version    int    // current document version, >= 1
	Default    func() T
	Validate   func(*T) error // may normalize derived fields in place
	Migrations []Migration    // ordered; one per version step
	Legacy     []LegacySource // tried in order after the current key fails
}

// Store binds a Backend to a versioned key namespace.
type Store struct {
	backend   Backend
	namespace string
}

// NewStore creates a store. namespace prefixes every slice key.
func NewStore(backend Backend, namespace string) *Store {
	return &Store{backend: backend, namespace: namespace}
}

// Key returns the full storage key of a slice.
func (s *Store) Key(slice string) string {
	return s.namespace + ":" + slice
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }

// Slice is a typed handle on one persisted slice.
type Slice[T any] struct {
	store  *Store
	schema Schema[T]
	key    string
}

// NewSlice binds schema to store. It panics when the schema is malformed or
// its own default does not validate; both are programming errors.
func NewSlice[T any](store *Store, schema Schema[T]) *Slice[T] {
	if schema.Slice == "" || schema.Version < 1 || schema.Default == nil {
		panic(fmt.Sprintf("persist: malformed schema %q", schema.Slice))
	}
	if schema.Validate != nil {
		def := schema.Default()
		if err := schema.Validate(&def); err != nil {
			panic(fmt.Sprintf("persist: default of %q fails validation: %v", schema.Slice, err))
		}
	}
	return &Slice[T]{store: store, schema: schema, key: store.Key(schema.Slice)}
}

// Key returns the namespaced key.
func (s *Slice[T]) Key() string { return s.key }

// Load returns the stored value, or the schema default when nothing usable is
// stored. It never fails: corrupt documents are logged and reset.
func (s *Slice[T]) Load() (T, Outcome) {
	corrupt := false

	raw, err := s.store.backend.Read(s.key)
	switch {
	case err == nil:
		v, migrated, derr := s.decodeDocument(raw)
		if derr == nil {
			if migrated {
				logging.Store("Migrated %s to v%d", s.key, s.schema.Version)
				logging.AuditFor(logging.CategoryStore).StateEvent(logging.AuditStateMigrated, s.schema.Slice, "")
				s.Save(v)
				return v, Migrated
			}
			return v, Loaded
		}
		logging.StoreWarn("Invalid document at %s: %v", s.key, derr)
		corrupt = true
	case errors.Is(err, ErrNotFound):
	default:
		logging.StoreError("Failed to read %s: %v", s.key, err)
		corrupt = true
	}

	for _, legacy := range s.schema.Legacy {
		raw, err := s.store.backend.Read(legacy.Key)
		if err != nil {
			continue
		}
		state, err := legacy.Decode(raw)
		if err != nil {
			logging.StoreWarn("Legacy key %s unusable for %s: %v", legacy.Key, s.key, err)
			continue
		}
		v, err := s.decodeState(state)
		if err != nil {
			logging.StoreWarn("Legacy key %s failed validation for %s: %v", legacy.Key, s.key, err)
			continue
		}
		logging.Store("Recovered %s from legacy key %s", s.key, legacy.Key)
		s.Save(v)
		if err := s.store.backend.Delete(legacy.Key); err != nil {
			logging.StoreWarn("Failed to delete legacy key %s: %v", legacy.Key, err)
		}
		return v, Recovered
	}

	if corrupt {
		logging.AuditFor(logging.CategoryStore).StateEvent(logging.AuditStateReset, s.schema.Slice, "unrecoverable document")
		return s.schema.Default(), Reset
	}
	return s.schema.Default(), NotFound
}

func (s *Slice[T]) decodeDocument(raw []byte) (T, bool, error) {
	var zero T
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return zero, false, fmt.Errorf("envelope: %w", err)
	}
	if doc.Version < 1 {
		return zero, false, fmt.Errorf("missing or invalid version %d", doc.Version)
	}
	if doc.Version > s.schema.Version {
		return zero, false, fmt.Errorf("version %d is newer than supported %d", doc.Version, s.schema.Version)
	}

	state := doc.State
	for v := doc.Version; v < s.schema.Version; v++ {
		m, ok := s.migration(v)
		if !ok {
			return zero, false, fmt.Errorf("no migration from version %d", v)
		}
		next, err := m.Up(state)
		if err != nil {
			return zero, false, fmt.Errorf("migration %d->%d: %w", v, v+1, err)
		}
		state = next
	}

	value, err := s.decodeState(state)
	if err != nil {
		return zero, false, err
	}
	return value, doc.Version != s.schema.Version, nil
}

func (s *Slice[T]) migration(from int) (Migration, bool) {
	for _, m := range s.schema.Migrations {
		if m.From == from {
			return m, true
		}
	}
	return Migration{}, false
}

func (s *Slice[T]) decodeState(state json.RawMessage) (T, error) {
	var zero T
	trimmed := bytes.TrimSpace(state)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return zero, fmt.Errorf("empty state")
	}
	value := s.schema.Default()
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return zero, fmt.Errorf("state: %w", err)
	}
	if s.schema.Validate != nil {
		if err := s.schema.Validate(&value); err != nil {
			return zero, fmt.Errorf("validate: %w", err)
		}
	}
	return value, nil
}

// Save persists v. Errors are logged and swallowed so storage trouble never
// reaches business logic.
func (s *Slice[T]) Save(v T) {
	defer func() {
		if r := recover(); r != nil {
			logging.StoreError("Panic while saving %s: %v", s.key, r)
		}
	}()
	if err := s.SaveErr(v); err != nil {
		logging.StoreError("Failed to save %s: %v", s.key, err)
	}
}

// SaveErr persists v and reports the error.
func (s *Slice[T]) SaveErr(v T) error {
	state, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data, err := json.Marshal(document{Version: s.schema.Version, State: state})
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return s.store.backend.Write(s.key, data)
}

// Clear removes the slice from storage.
func (s *Slice[T]) Clear() error {
	return s.store.backend.Delete(s.key)
}
