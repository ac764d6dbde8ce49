package providers

import (
	"errors"
	"time"

	"github.com/gookit/validate"

	"cloutdash/internal/structures"
)

type CnfValidator struct {
	conf *structures.Config
}

func NewCnfValidator(conf *structures.Config) *CnfValidator {
	return &CnfValidator{conf: conf}
}

// Validate checks every section of the config against its struct tags.
func (v *CnfValidator) Validate() error {
	sections := []interface{}{
		&v.conf.WebServer,
		&v.conf.Store,
		&v.conf.Sync,
		&v.conf.LocalCache,
		&v.conf.Logger,
	}
	for _, s := range sections {
		vd := validate.Struct(s)
		if !vd.Validate() {
			return errors.New(vd.Errors.One())
		}
	}
	if v.conf.Cache.Enabled && v.conf.Cache.Size <= 0 {
		return errors.New("cache.size must be positive when cache is enabled")
	}
	if v.conf.Importer.Enabled && v.conf.Importer.Dir == "" {
		return errors.New("importer.dir is required when importer is enabled")
	}
	if v.conf.Importer.Settle < 0 {
		return errors.New("importer.settle must not be negative")
	}
	if v.conf.Backup.Enabled && (v.conf.Backup.Path == "" || v.conf.Backup.Interval < time.Second) {
		return errors.New("backup.path and an interval of at least 1s are required when backup is enabled")
	}
	if v.conf.Sync.RefreshInterval != 0 && v.conf.Sync.RefreshInterval < time.Second {
		return errors.New("sync.refreshInterval must be at least 1s")
	}
	return nil
}
