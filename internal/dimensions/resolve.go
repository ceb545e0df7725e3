// Package dimensions maps raw descriptive values (browser, system, referrer,
// screen size, path, campaign, location) to row ids, creating rows on first
// sight.
package dimensions

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Resolve returns the id of the row matching dim's natural key, inserting dim
// when no such row exists. A concurrent insert of the same key is absorbed by
// the unique index and the winner's row is returned.
func Resolve(db *gorm.DB, dim Dimension) (uint, error) {
	key := dim.NaturalKey()

	id, err := find(db, dim, key)
	if err != nil {
		return 0, err
	}
	if id != 0 {
		return id, nil
	}

	dim.setID(0)
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(dim)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dim.TableName(), result.Error)
	}
	if result.RowsAffected > 0 && dim.GetID() != 0 {
		return dim.GetID(), nil
	}

	// Lost the insert race: the row exists now.
	id, err = find(db, dim, key)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("failed to resolve %s after conflict", dim.TableName())
	}
	return id, nil
}

func find(db *gorm.DB, dim Dimension, key map[string]any) (uint, error) {
	var row struct{ ID uint }
	err := db.Table(dim.TableName()).Select("id").Where(key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up %s: %w", dim.TableName(), err)
	}
	dim.setID(row.ID)
	return row.ID, nil
}

// ResolvePath resolves a path row and refreshes its title and event flag,
// the only dimension attributes allowed to change after creation.
func ResolvePath(db *gorm.DB, path *Path) (uint, error) {
	title, event := path.Title, path.Event

	id, err := Resolve(db, path)
	if err != nil {
		return 0, err
	}

	updates := map[string]any{}
	var current Path
	if err := db.Select("id", "title", "event").First(&current, id).Error; err != nil {
		return 0, fmt.Errorf("failed to load path: %w", err)
	}
	if title != "" && current.Title != title {
		updates["title"] = title
	}
	if event && !current.Event {
		updates["event"] = true
	}
	if len(updates) > 0 {
		if err := db.Model(&Path{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return 0, fmt.Errorf("failed to update path: %w", err)
		}
	}

	path.Title, path.Event = title, event
	return id, nil
}
