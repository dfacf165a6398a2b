package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"push-relay-backend/internal/model"
)

// GetPreference returns the persisted preference row for the user, or
// gorm.ErrRecordNotFound (unwrapped) when the user has never saved one so
// the caller can fall back to defaults.
func (s *gormStore) GetPreference(ctx context.Context, userID string) (*model.Preference, error) {
	var pref model.Preference
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, wrap("get preference", err)
	}
	return &pref, nil
}

// SavePreference writes the full merged preference object for the user.
func (s *gormStore) SavePreference(ctx context.Context, pref *model.Preference) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(pref).Error
	return wrap("save preference", err)
}
