package backup

import (
	"cloutdash/internal/models"
	"cloutdash/internal/testutil"
	"errors"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *models.Snapshot {
	concept := "Cats"
	return &models.Snapshot{
		Receipts: []*models.Event{
			{User: "bob", Action: models.ActionLike, Concept: &concept, Amount: 3, Timestamp: "Jan 1 1:00 PM"},
		},
		Bounties:         map[string][]models.Bounty{"Cats": {{Amount: 10, Timestamp: "Jan 1 9:00 AM"}}},
		UntaggedBounties: []models.Bounty{{Amount: 5, Timestamp: "Jan 2 9:00 AM"}},
	}
}

func TestFileManager_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "backup.zst")
	fm := NewFileManager(&testutil.MockCompressor{}, &testutil.MockLogger{})

	require.NoError(t, fm.SaveToFile(path, "uid-1", sampleSnapshot()))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	got, err := fm.LoadFromFile(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "uid-1", got.Owner)
	require.Len(t, got.Snapshot.Receipts, 1)
	assert.Equal(t, "Cats", got.Snapshot.Receipts[0].ConceptName())
	assert.Len(t, got.Snapshot.Bounties["Cats"], 1)
	assert.Len(t, got.Snapshot.UntaggedBounties, 1)
}

func TestFileManager_LoadMissingFile(t *testing.T) {
	fm := NewFileManager(&testutil.MockCompressor{}, &testutil.MockLogger{})

	got, err := fm.LoadFromFile(filepath.Join(t.TempDir(), "none.zst"))
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileManager_LoadBareSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.zst")
	data, err := json.Marshal(sampleSnapshot())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	logger := &testutil.MockLogger{}
	fm := NewFileManager(&testutil.MockCompressor{}, logger)

	got, err := fm.LoadFromFile(path)
	require.NoError(t, err)
	assert.Empty(t, got.Owner)
	assert.Len(t, got.Snapshot.Receipts, 1)
	assert.NotEmpty(t, logger.Entries("warn"))
}

func TestFileManager_LoadBareReceipts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.zst")
	require.NoError(t, os.WriteFile(path, []byte(`[{"user":"a","action":"tip","amount":4,"timestamp":"Jan 3 1:00 PM"}]`), 0o644))
	fm := NewFileManager(&testutil.MockCompressor{}, &testutil.MockLogger{})

	got, err := fm.LoadFromFile(path)
	require.NoError(t, err)
	require.Len(t, got.Snapshot.Receipts, 1)
	assert.Equal(t, models.ActionTip, got.Snapshot.Receipts[0].Action)
}

func TestFileManager_LoadCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zst")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	fm := NewFileManager(&testutil.MockCompressor{}, &testutil.MockLogger{})

	_, err := fm.LoadFromFile(path)
	assert.Error(t, err)
}

func TestFileManager_CompressError(t *testing.T) {
	comp := &testutil.MockCompressor{
		CompressFn: func(b []byte) ([]byte, error) {
			return nil, errors.New("compress error")
		},
	}
	path := filepath.Join(t.TempDir(), "x.zst")
	fm := NewFileManager(comp, &testutil.MockLogger{})

	assert.Error(t, fm.SaveToFile(path, "o", sampleSnapshot()))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
