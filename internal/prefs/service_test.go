package prefs

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"push-relay-backend/internal/model"
)

// fakeStore keeps preference rows in memory and counts reads.
type fakeStore struct {
	rows  map[string]model.Preference
	reads int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]model.Preference)}
}

func (f *fakeStore) GetPreference(_ context.Context, userID string) (*model.Preference, error) {
	f.reads++
	row, ok := f.rows[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &row, nil
}

func (f *fakeStore) SavePreference(_ context.Context, pref *model.Preference) error {
	f.rows[pref.UserID] = *pref
	return nil
}

func TestServiceGetReturnsDefaultsLazily(t *testing.T) {
	fs := newFakeStore()
	svc := NewService(fs, time.Minute, zerolog.Nop())

	pref, err := svc.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, pref.Enabled)
	assert.False(t, pref.QuietHoursEnabled)
	// No row is created on read.
	assert.Empty(t, fs.rows)
}

func TestServiceGetUsesCache(t *testing.T) {
	fs := newFakeStore()
	svc := NewService(fs, time.Minute, zerolog.Nop())

	_, err := svc.Get(context.Background(), "u1")
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, 1, fs.reads)
}

func TestServiceSaveMergesAndInvalidates(t *testing.T) {
	fs := newFakeStore()
	svc := NewService(fs, time.Minute, zerolog.Nop())

	// Warm the cache with defaults.
	_, err := svc.Get(context.Background(), "u1")
	require.NoError(t, err)

	off := false
	saved, err := svc.Save(context.Background(), "u1", Patch{Enabled: &off})
	require.NoError(t, err)
	assert.False(t, saved.Enabled)
	// Read-modify-write keeps the untouched fields at their defaults.
	assert.True(t, saved.Messages)

	// The stale cached value is gone: the next read sees the saved row.
	pref, err := svc.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, pref.Enabled)
}
