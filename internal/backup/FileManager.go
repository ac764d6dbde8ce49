// Package backup keeps a compressed copy of the session log on disk and runs the periodic
// jobs around it.
package backup

import (
	"cloutdash/internal/localcache"
	"cloutdash/internal/models"
	"cloutdash/internal/providers"
	"errors"
	json "github.com/goccy/go-json"
	"os"
	"path/filepath"
)

// File is the on-disk backup document.
type File struct {
	Owner    string           `json:"owner"`
	Snapshot *models.Snapshot `json:"snapshot"`
}

type FileManager struct {
	compressor localcache.CompressorInterface
	logger     providers.Logger
}

func NewFileManager(compressor localcache.CompressorInterface, logger providers.Logger) *FileManager {
	return &FileManager{
		compressor: compressor,
		logger:     logger,
	}
}

func (f *FileManager) SaveToFile(fileName, owner string, snap *models.Snapshot) error {
	jsonData, err := json.Marshal(File{Owner: owner, Snapshot: snap})
	if err != nil {
		return err
	}
	data, err := f.compressor.Compress(jsonData)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fileName), 0o755); err != nil {
		return err
	}
	tmpFile := fileName + ".tmp"
	file, err := os.Create(tmpFile)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	if err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	if err = file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	if err = file.Close(); err != nil {
		os.Remove(tmpFile)
		return err
	}

	return os.Rename(tmpFile, fileName)
}

// LoadFromFile reads a backup. A missing file yields (nil, nil). Besides the current layout it
// accepts a bare snapshot object and a bare receipts array.
func (f *FileManager) LoadFromFile(fileName string) (*File, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	decompressedData, err := f.compressor.Decompress(data)
	if err != nil {
		return nil, err
	}

	var backup File
	if err := json.Unmarshal(decompressedData, &backup); err == nil && backup.Snapshot != nil {
		return &backup, nil
	}

	f.logger.Warnf(providers.TypeApp, "Backup %s has no owner header, trying older layouts", fileName)
	var snap models.Snapshot
	if err := json.Unmarshal(decompressedData, &snap); err == nil && snap.Receipts != nil {
		return &File{Snapshot: &snap}, nil
	}

	var receipts []*models.Event
	if err := json.Unmarshal(decompressedData, &receipts); err != nil {
		f.logger.Warnf(providers.TypeApp, "Backup %s is unreadable", fileName)
		return nil, errors.Join(errors.New("unrecognized backup layout"), err)
	}
	return &File{Snapshot: &models.Snapshot{Receipts: receipts}}, nil
}
