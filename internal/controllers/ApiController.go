package controllers

import (
	"cloutdash/internal/models"
	"cloutdash/internal/providers"
	"cloutdash/internal/syncer"
	"context"
	json "github.com/goccy/go-json"
	"io"
	"net/http"
	"nhooyr.io/websocket"
	"time"
)

const wsWriteTimeout = 5 * time.Second

type ApiController struct {
	logger       providers.Logger
	orchestrator syncer.OrchestratorInterface
}

type assignRequest struct {
	Concept string `json:"concept"`
	Index   *int   `json:"index"`
}

type acceptedResponse struct {
	Status string `json:"status"`
}

func NewApiController(logger providers.Logger, orchestrator syncer.OrchestratorInterface) *ApiController {
	return &ApiController{
		logger:       logger,
		orchestrator: orchestrator,
	}
}

// Paste takes the raw pasted text as the request body.
func (ac *ApiController) Paste(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	text, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, &models.ParseError{Reason: "unable to read body", Err: err})
		return
	}
	res, err := ac.orchestrator.Paste(r.Context(), text)
	if err != nil {
		ac.logger.Warnf(providers.TypePost, "Paste rejected: %s", err)
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if res.Added > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (ac *ApiController) GetEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ac.orchestrator.Events())
}

func (ac *ApiController) GetStats(w http.ResponseWriter, r *http.Request) {
	filter, err := models.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ac.orchestrator.Stats(filter))
}

func (ac *ApiController) AssignBounty(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Index == nil {
		writeError(w, &models.ValidationError{Field: "index", Reason: "is required"})
		return
	}
	if err := ac.orchestrator.AssignBounty(r.Context(), req.Concept, *req.Index); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ac.orchestrator.Metadata())
}

func (ac *ApiController) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := ac.orchestrator.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "refreshing"})
}

// Clear starts the bulk delete and answers before it completes.
func (ac *ApiController) Clear(w http.ResponseWriter, r *http.Request) {
	if err := ac.orchestrator.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	ac.logger.Infof(providers.TypePost, "Clear requested")
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "clearing"})
}

func (ac *ApiController) GetClearProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ac.orchestrator.Progress())
}

// StreamClearProgress pushes progress snapshots over a websocket until the operation finishes.
func (ac *ApiController) StreamClearProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		ac.logger.Warnf(providers.TypeGet, "Websocket upgrade failed: %s", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	updates := make(chan syncer.ProgressSnapshot, 1)
	unsubscribe := ac.orchestrator.SubscribeProgress(func(snap syncer.ProgressSnapshot) {
		// keep only the latest snapshot for a slow reader
		select {
		case updates <- snap:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- snap:
			default:
			}
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			if err := writeSnapshot(ctx, conn, snap); err != nil {
				ac.logger.Debugf(providers.TypeGet, "Progress stream closed: %s", err)
				return
			}
			if !snap.Running {
				_ = conn.Close(websocket.StatusNormalClosure, "done")
				return
			}
		}
	}
}

func writeSnapshot(ctx context.Context, conn *websocket.Conn, snap syncer.ProgressSnapshot) error {
	gson, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, gson)
}
