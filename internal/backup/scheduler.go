package backup

import (
	"cloutdash/internal/backup/interfaces"
	"cloutdash/internal/models"
	"cloutdash/internal/providers"
	"cloutdash/internal/structures"
	"cloutdash/internal/syncer"
	"context"
	"errors"
	"github.com/roylee0704/gron"
	"sync"
)

// Session is the part of the orchestrator the scheduler drives.
type Session interface {
	Snapshot() (string, *models.Snapshot)
	ImportSnapshot(ctx context.Context, snap *models.Snapshot) (*syncer.PasteResult, error)
	Refresh(ctx context.Context) error
}

type Scheduler struct {
	config      *structures.Config
	logger      providers.Logger
	session     Session
	fileManager *FileManager
	cron        *gron.Cron
	opsMu       sync.Mutex
}

func (s *Scheduler) Init() {
	s.cron = gron.New()

	if s.config.Backup.Enabled {
		s.cron.AddFunc(gron.Every(s.config.Backup.Interval), func() {
			if err := s.Persist(); err == nil {
				s.logger.Infof(providers.TypeApp, "Backup written to %s", s.config.Backup.Path)
			}
		})
	}

	if s.config.Sync.RefreshInterval > 0 {
		s.cron.AddFunc(gron.Every(s.config.Sync.RefreshInterval), func() {
			err := s.session.Refresh(context.Background())
			switch {
			case err == nil:
				s.logger.Debugf(providers.TypeSync, "Periodic refresh scheduled")
			case errors.Is(err, models.ErrUnauthenticated), errors.Is(err, models.ErrBusy):
			default:
				s.logger.Errorf(providers.TypeSync, "Periodic refresh failed: %s", err)
			}
		})
	}

	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Restore merges the backup into the current session. A backup taken by another owner is refused.
func (s *Scheduler) Restore(ctx context.Context) (*syncer.PasteResult, error) {
	if !s.config.Backup.Enabled {
		return nil, models.ErrNotFound
	}
	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	backup, err := s.fileManager.LoadFromFile(s.config.Backup.Path)
	if err != nil {
		return nil, err
	}
	if backup == nil {
		return nil, models.ErrNotFound
	}
	owner, _ := s.session.Snapshot()
	if backup.Owner != "" && backup.Owner != owner {
		return nil, &models.ValidationError{Field: "owner", Reason: "backup belongs to another session"}
	}
	res, err := s.session.ImportSnapshot(ctx, backup.Snapshot)
	if err != nil {
		return nil, err
	}
	s.logger.Infof(providers.TypeApp, "Restored backup %s: %d events added", s.config.Backup.Path, res.Added)
	return res, nil
}

func (s *Scheduler) Persist() error {
	if !s.config.Backup.Enabled {
		return nil
	}
	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	owner, snap := s.session.Snapshot()
	if snap.Empty() {
		return nil
	}
	err := s.fileManager.SaveToFile(s.config.Backup.Path, owner, snap)
	if err != nil {
		s.logger.Errorf(providers.TypeApp, "Error while writing backup: %s", err)
		return err
	}
	return nil
}

func NewScheduler(config *structures.Config, logger providers.Logger, session Session, fileManager *FileManager) interfaces.SchedulerInterface {
	return &Scheduler{
		config:      config,
		logger:      logger,
		session:     session,
		fileManager: fileManager,
	}
}
