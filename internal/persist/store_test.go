package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

func counterSchema() Schema[counter] {
	return Schema[counter]{
		Slice:   "counter",
		Version: 2,
		Default: func() counter { return counter{Label: "default"} },
		Validate: func(c *counter) error {
			if c.Value < 0 {
				return fmt.Errorf("negative value %d", c.Value)
			}
			return nil
		},
		Migrations: []Migration{{
			From: 1,
			// v1 stored {"count": n}
			Up: func(state json.RawMessage) (json.RawMessage, error) {
				var old struct {
					Count int `json:"count"`
				}
				if err := json.Unmarshal(state, &old); err != nil {
					return nil, err
				}
				return json.Marshal(counter{Value: old.Count, Label: "migrated"})
			},
		}},
		Legacy: []LegacySource{
			{
				Key: "legacy-primary",
				Decode: func(raw []byte) (json.RawMessage, error) {
					var n int
					if err := json.Unmarshal(raw, &n); err != nil {
						return nil, err
					}
					return json.Marshal(counter{Value: n, Label: "primary"})
				},
			},
			{
				Key: "legacy-secondary",
				Decode: func(raw []byte) (json.RawMessage, error) {
					return raw, nil
				},
			},
		},
	}
}

func newTestSlice(t *testing.T) (*MemoryBackend, *Slice[counter]) {
	t.Helper()
	mem := NewMemoryBackend()
	return mem, NewSlice(NewStore(mem, "test.v1"), counterSchema())
}

func TestSlice_RoundTrip(t *testing.T) {
	_, s := newTestSlice(t)

	v, outcome := s.Load()
	assert.Equal(t, NotFound, outcome)
	assert.Equal(t, counter{Label: "default"}, v)

	require.NoError(t, s.SaveErr(counter{Value: 7, Label: "x"}))
	v, outcome = s.Load()
	assert.Equal(t, Loaded, outcome)
	assert.Equal(t, counter{Value: 7, Label: "x"}, v)
}

func TestSlice_KeyIsNamespaced(t *testing.T) {
	mem, s := newTestSlice(t)
	s.Save(counter{Value: 1})

	assert.Equal(t, "test.v1:counter", s.Key())
	raw, err := mem.Read("test.v1:counter")
	require.NoError(t, err)

	var doc document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, 2, doc.Version)
}

func TestSlice_MigratesOlderVersion(t *testing.T) {
	mem, s := newTestSlice(t)
	mem.Put(s.Key(), []byte(`{"version":1,"state":{"count":42}}`))

	v, outcome := s.Load()
	assert.Equal(t, Migrated, outcome)
	assert.Equal(t, counter{Value: 42, Label: "migrated"}, v)

	// Written back at the current version.
	v, outcome = s.Load()
	assert.Equal(t, Loaded, outcome)
	assert.Equal(t, 42, v.Value)
}

func TestSlice_CorruptDocumentsReset(t *testing.T) {
	cases := map[string]string{
		"garbage":         `{{{not json`,
		"null state":      `{"version":2,"state":null}`,
		"missing version": `{"state":{"value":3}}`,
		"future version":  `{"version":9,"state":{"value":3}}`,
		"invalid state":   `{"version":2,"state":{"value":-5}}`,
		"wrong type":      `{"version":2,"state":{"value":"three"}}`,
		"failed migrate":  `{"version":1,"state":[1,2]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			mem, s := newTestSlice(t)
			mem.Put(s.Key(), []byte(raw))

			v, outcome := s.Load()
			assert.Equal(t, Reset, outcome)
			assert.Equal(t, counter{Label: "default"}, v)
		})
	}
}

func TestSlice_LegacyRecoveryPriority(t *testing.T) {
	mem, s := newTestSlice(t)
	mem.Put("legacy-primary", []byte(`11`))
	mem.Put("legacy-secondary", []byte(`{"value":22,"label":"secondary"}`))

	v, outcome := s.Load()
	assert.Equal(t, Recovered, outcome)
	assert.Equal(t, counter{Value: 11, Label: "primary"}, v)

	_, err := mem.Read("legacy-primary")
	assert.ErrorIs(t, err, ErrNotFound, "recovered legacy key is removed")

	v, outcome = s.Load()
	assert.Equal(t, Loaded, outcome)
	assert.Equal(t, 11, v.Value)
}

func TestSlice_LegacyFallsThroughUnusableSources(t *testing.T) {
	mem, s := newTestSlice(t)
	mem.Put(s.Key(), []byte(`corrupt`))
	mem.Put("legacy-primary", []byte(`"not a number"`))
	mem.Put("legacy-secondary", []byte(`{"value":22,"label":"secondary"}`))

	v, outcome := s.Load()
	assert.Equal(t, Recovered, outcome)
	assert.Equal(t, counter{Value: 22, Label: "secondary"}, v)
}

func TestSlice_SaveSwallowsWriteErrors(t *testing.T) {
	mem, s := newTestSlice(t)
	mem.WriteErr = errors.New("quota exceeded")

	assert.NotPanics(t, func() { s.Save(counter{Value: 1}) })
	assert.Error(t, s.SaveErr(counter{Value: 1}))

	_, outcome := s.Load()
	assert.Equal(t, NotFound, outcome)
}

func TestNewSlice_PanicsOnInvalidDefault(t *testing.T) {
	schema := counterSchema()
	schema.Default = func() counter { return counter{Value: -1} }

	assert.Panics(t, func() { NewSlice(NewStore(NewMemoryBackend(), "ns"), schema) })
}

func TestSlice_Clear(t *testing.T) {
	_, s := newTestSlice(t)
	s.Save(counter{Value: 3})
	require.NoError(t, s.Clear())

	_, outcome := s.Load()
	assert.Equal(t, NotFound, outcome)
}

func TestFileBackend(t *testing.T) {
	dir := t.TempDir()
	fb, err := NewFileBackend(filepath.Join(dir, "state"))
	require.NoError(t, err)

	_, err = fb.Read("nomo.v1:currency")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, fb.Write("nomo.v1:currency", []byte(`{"a":1}`)))
	got, err := fb.Read("nomo.v1:currency")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	matches, _ := filepath.Glob(filepath.Join(fb.Dir(), "*.json"))
	assert.Equal(t, []string{filepath.Join(fb.Dir(), "nomo.v1_currency.json")}, matches)

	require.NoError(t, fb.Delete("nomo.v1:currency"))
	require.NoError(t, fb.Delete("nomo.v1:currency"))
	_, err = fb.Read("nomo.v1:currency")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteBackend(t *testing.T) {
	for _, driver := range []string{"sqlite3", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.db")
			b, err := OpenSQLite(path, driver)
			require.NoError(t, err)
			defer b.Close()

			store := NewStore(b, "nomo.v1")
			s := NewSlice(store, counterSchema())

			s.Save(counter{Value: 5, Label: driver})
			s.Save(counter{Value: 6, Label: driver})
			v, outcome := s.Load()
			assert.Equal(t, Loaded, outcome)
			if diff := cmp.Diff(counter{Value: 6, Label: driver}, v); diff != "" {
				t.Errorf("state mismatch (-want +got):\n%s", diff)
			}

			require.NoError(t, b.Delete(s.Key()))
			_, err = b.Read(s.Key())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestOpenSQLite_RejectsUnknownDriver(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "x.db"), "postgres")
	assert.Error(t, err)
}
