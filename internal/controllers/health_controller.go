package controllers

import (
	"cloutdash/internal/syncer"
	"fmt"
	"net/http"
	"time"
)

type HealthController struct {
	orchestrator syncer.OrchestratorInterface
	startTime    time.Time
}

type healthResponse struct {
	Status        string        `json:"status"`
	Uptime        string        `json:"uptime"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Session       syncer.Status `json:"session"`
}

func (hc *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(hc.startTime)
	session := hc.orchestrator.Status()
	status := "ok"
	if session.LastError != "" {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        status,
		Uptime:        formatDuration(uptime),
		UptimeSeconds: uptime.Seconds(),
		Session:       session,
	})
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
}

func NewHealthController(orchestrator syncer.OrchestratorInterface) *HealthController {
	return &HealthController{
		orchestrator: orchestrator,
		startTime:    time.Now(),
	}
}
