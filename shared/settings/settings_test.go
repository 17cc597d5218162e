package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "match.json")
	doc := MatchSettings{StageID: 4, Laps: 10, MaxPlayers: 12, GameSpeed: 1.5, Mirrored: true, ItemsOn: true}
	require.NoError(t, Save(path, doc))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, doc, got)
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	require.Equal(t, Default(), got)
}

func TestLoadCorruptFileFallsBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "match.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0o644))

	got, err := Load(path)
	require.Error(t, err)
	require.Equal(t, Default(), got)
}

func TestLoadRejectsOutOfRangeValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "match.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"stageId":0,"laps":0,"maxPlayers":99,"gameSpeed":1}`), 0o644))

	got, err := Load(path)
	require.Error(t, err)
	require.Equal(t, Default(), got)
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, validate.Struct(Default()))
}
