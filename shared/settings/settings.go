// Package settings holds the match settings document. The whole document is
// replaced at once when a client changes anything, persisted at shutdown and
// reloadable from the operator console.
package settings

import (
	"encoding/json"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// DefaultPath is where the server looks for the document unless told
// otherwise.
const DefaultPath = "matchsettings.json"

var validate = validator.New()

// MatchSettings is the whole-document value clients negotiate over. Fields
// are opaque to the server; it only relays and persists them.
type MatchSettings struct {
	StageID    int     `json:"stageId" validate:"gte=0"`
	Laps       int     `json:"laps" validate:"gte=1,lte=20"`
	MaxPlayers int     `json:"maxPlayers" validate:"gte=1,lte=16"`
	GameSpeed  float64 `json:"gameSpeed" validate:"gt=0,lte=2"`
	Mirrored   bool    `json:"mirrored"`
	ItemsOn    bool    `json:"itemsOn"`
}

// Default returns the document used when no valid file exists.
func Default() MatchSettings {
	return MatchSettings{
		StageID:    0,
		Laps:       3,
		MaxPlayers: 8,
		GameSpeed:  1.0,
		ItemsOn:    true,
	}
}

// Load reads and validates the document at path. On any failure it returns
// the default document alongside the error, so the caller can log and keep
// running.
func Load(path string) (MatchSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), errors.Wrap(err, "read settings file failed")
	}
	var s MatchSettings
	if err := json.Unmarshal(data, &s); err != nil {
		return Default(), errors.Wrap(err, "parse settings file failed")
	}
	if err := validate.Struct(s); err != nil {
		return Default(), errors.Wrap(err, "validate settings failed")
	}
	return s, nil
}

// Save writes the document to path.
func Save(path string, s MatchSettings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal settings failed")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write settings file failed")
	}
	return nil
}
