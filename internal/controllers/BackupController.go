package controllers

import (
	"cloutdash/internal/backup/interfaces"
	"net/http"
)

type BackupController struct {
	scheduler interfaces.SchedulerInterface
}

func NewBackupController(scheduler interfaces.SchedulerInterface) *BackupController {
	return &BackupController{scheduler: scheduler}
}

// Save writes a backup of the current session immediately.
func (bc *BackupController) Save(w http.ResponseWriter, _ *http.Request) {
	if err := bc.scheduler.Persist(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Restore merges the last backup into the current session.
func (bc *BackupController) Restore(w http.ResponseWriter, r *http.Request) {
	res, err := bc.scheduler.Restore(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
