package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackq/internal/model"
)

func candidates() []Candidate {
	return []Candidate{
		{SettingsFile: "settings/a.toml", Video: "clip-00", Part: "00"},
		{SettingsFile: "settings/b.toml", Video: "clip-01", Part: "01"},
	}
}

func TestLoad_MissingResource(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "jobs.csv"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRegistryMissing))
}

func TestRegisterNew_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.csv")

	reg := Create(path)
	added, err := reg.RegisterNew(candidates())
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	reg, err = Load(path)
	require.NoError(t, err)
	added, err = reg.RegisterNew(candidates())
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 2, reg.Len())

	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestRegisterNew_DoesNotTouchExistingRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.csv")
	content := "settings_file,video,datetime,part,status,session_folder,timestamp,notes\n" +
		"settings/a.toml,clip-00,,00,done,sessions/session_clip-00,2026-01-01T00:00:00Z,keep me\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)
	added, err := reg.RegisterNew(append(candidates(), Candidate{SettingsFile: "settings/b.toml"}))
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	reg, err = Load(path)
	require.NoError(t, err)
	rec, ok := reg.Get("settings/a.toml")
	require.True(t, ok)
	assert.Equal(t, model.StatusDone, rec.Status)
	assert.Equal(t, "keep me", rec.Notes)
	assert.Equal(t, "sessions/session_clip-00", rec.SessionFolder)

	rec, ok = reg.Get("settings/b.toml")
	require.True(t, ok)
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.Empty(t, rec.SessionFolder)
	assert.Empty(t, rec.Timestamp)
}

func TestUpdate_WritesTripleAndRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.csv")
	reg := Create(path)
	_, err := reg.RegisterNew(candidates())
	require.NoError(t, err)

	err = reg.Update("settings/a.toml", Outcome{
		Status:        model.StatusDone,
		Timestamp:     "2026-10-18T10:00:00Z",
		SessionFolder: "sessions/session_clip-00",
	})
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	rec, _ := reloaded.Get("settings/a.toml")
	assert.Equal(t, model.StatusDone, rec.Status)
	assert.Equal(t, "2026-10-18T10:00:00Z", rec.Timestamp)
	assert.Equal(t, "sessions/session_clip-00", rec.SessionFolder)

	err = reg.Update("settings/zzz.toml", Outcome{Status: model.StatusFailed})
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	err = reg.Update("settings/b.toml", Outcome{Status: model.StatusSkip})
	assert.Error(t, err)
}

func TestSnapshotRestore_RoundTripsStatusTriples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.csv")
	content := "settings_file,video,datetime,part,status,session_folder,timestamp,notes,knowledge_transfer,operator\n" +
		"settings/a.toml,clip-00,,00,pending,,,,,ana\n" +
		"settings/b.toml,clip-01,,01,skip,,,hand-skipped,/data/kt,ben\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, reg.HasKnowledgeTransfer())
	snap := reg.Snapshot()

	require.NoError(t, reg.Update("settings/a.toml", Outcome{Status: model.StatusDone, Timestamp: "t", SessionFolder: "s"}))
	require.NoError(t, reg.Restore(snap))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestEligible_SkipsDoneSkipAndUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.csv")
	content := "settings_file,status\n" +
		"a.toml,pending\n" +
		"b.toml,done\n" +
		"c.toml,failed\n" +
		"d.toml,skip\n" +
		"e.toml,paused\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.toml", "c.toml"}, reg.Eligible())
	assert.False(t, reg.HasKnowledgeTransfer())
}

func TestLoad_RejectsDuplicateKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.csv")
	content := "settings_file,status\na.toml,pending\na.toml,done\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestUpdate_KeepsRowsWithoutSettingsFileInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.csv")
	content := "settings_file,video,datetime,part,status,session_folder,timestamp,notes\n" +
		"settings/a.toml,clip-00,,,pending,,,\n" +
		",,,,,,,batch 2 starts below: camera moved\n" +
		"settings/b.toml,clip-01,,,pending,,,\n" +
		",,,,,,,end of day\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, []string{"settings/a.toml", "settings/b.toml"}, reg.Eligible())
	assert.Equal(t, 2, reg.Counts()[model.StatusPending])

	require.NoError(t, reg.Update("settings/a.toml", Outcome{
		Status:        model.StatusDone,
		Timestamp:     "2026-10-18T09:30:00Z",
		SessionFolder: "sessions/session_clip-00",
	}))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "settings_file,video,datetime,part,status,session_folder,timestamp,notes\n" +
		"settings/a.toml,clip-00,,,done,sessions/session_clip-00,2026-10-18T09:30:00Z,\n" +
		",,,,,,,batch 2 starts below: camera moved\n" +
		"settings/b.toml,clip-01,,,pending,,,\n" +
		",,,,,,,end of day\n"
	assert.Equal(t, want, string(got))

	reg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"settings/b.toml"}, reg.Eligible())
}

func TestUpdate_PreservesUntouchedCellsVerbatim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.csv")
	content := "settings_file,video,datetime,part,status,session_folder,timestamp,notes\n" +
		"\" settings/a.toml \",clip-00,,,pending ,,,\n" +
		"settings/b.toml,clip-01,,,pending,,,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"settings/a.toml", "settings/b.toml"}, reg.Eligible())
	rec, ok := reg.Get("settings/a.toml")
	require.True(t, ok)
	assert.Equal(t, model.StatusPending, rec.Status)

	require.NoError(t, reg.Update("settings/b.toml", Outcome{Status: model.StatusFailed, Timestamp: "t"}))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "settings_file,video,datetime,part,status,session_folder,timestamp,notes\n"+
		"\" settings/a.toml \",clip-00,,,pending ,,,\n"+
		"settings/b.toml,clip-01,,,failed,,t,\n", string(got))

	// A changed cell is written in its canonical form.
	require.NoError(t, reg.Update(" settings/a.toml", Outcome{Status: model.StatusDone, Timestamp: "t"}))
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(got), "\" settings/a.toml \",clip-00,,,done,,t,\n")
}
