package httpserver

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/oltp-olap-sync/internal/dispatcher"
	"github.com/fairyhunter13/oltp-olap-sync/internal/domain"
)

const maxTailLines = 20

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// syncQuery mirrors the GET /sync query parameters so validator can enforce
// the trigger contract's table/op vocabulary in one place.
type syncQuery struct {
	Table string `validate:"omitempty,oneof=clientes categoria productos ventas orden orden_producto"`
	Op    string `validate:"omitempty,oneof=insert update delete"`
}

type syncResponse struct {
	ReturnCode int      `json:"returncode"`
	Stdout     []string `json:"stdout"`
	Stderr     []string `json:"stderr"`
}

// SyncHandler implements GET /sync?table=&op=&id=&token= (spec §4.6): it
// invokes the Sync Orchestrator with the given parameters and reports return
// status plus the tail of its output.
func (s *Server) SyncHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.SyncToken != "" && r.URL.Query().Get("token") != s.SyncToken {
			writeJSON(w, http.StatusForbidden, errorEnvelope{Error: apiError{
				Code: "FORBIDDEN", Message: "token does not match configured shared secret",
			}})
			return
		}

		q := syncQuery{
			Table: strings.TrimSpace(r.URL.Query().Get("table")),
			Op:    strings.TrimSpace(r.URL.Query().Get("op")),
		}
		if err := getValidator().Struct(q); err != nil {
			writeError(w, r, domain.ErrInvalidArgument, "unrecognized table or op")
			return
		}

		req := domain.SyncRequest{Table: q.Table, Op: q.Op}
		if idStr := r.URL.Query().Get("id"); idStr != "" {
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				writeError(w, r, domain.ErrInvalidArgument, "id must be an integer")
				return
			}
			req.ID = &id
		}

		logger := LoggerFrom(r)
		logger.Info("trigger: sync requested", slog.String("table", req.Table), slog.String("op", req.Op))

		result, err := s.Sync.Sync(r.Context(), req)
		if err != nil {
			logger.Error("trigger: sync failed", slog.Any("error", err))
			writeJSON(w, http.StatusOK, syncResponse{
				ReturnCode: 1,
				Stdout:     []string{},
				Stderr:     tail(strings.Split(err.Error(), "\n")),
			})
			return
		}

		stdout := []string{
			"table=" + req.Table,
			"rows_processed=" + strconv.Itoa(result.RowsProcessed),
			"facts_written=" + strconv.Itoa(result.FactsWritten),
			"facts_skipped=" + strconv.Itoa(result.FactsSkipped),
			"placeholders_made=" + strconv.Itoa(result.PlaceholdersMade),
		}
		writeJSON(w, http.StatusOK, syncResponse{
			ReturnCode: 0,
			Stdout:     tail(stdout),
			Stderr:     []string{},
		})
	}
}

type workerStatusResponse struct {
	Status        string `json:"status"`
	LastHeartbeat int64  `json:"last_heartbeat,omitempty"`
}

// WorkerStatusHandler implements GET /worker-status (spec §6): it classifies
// the dispatcher's liveness from the heartbeat artifact.
func (s *Server) WorkerStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, lastHeartbeat, err := dispatcher.ClassifyLiveness(s.LivenessPath, time.Now())
		if err != nil {
			writeJSON(w, http.StatusOK, workerStatusResponse{Status: dispatcher.LivenessError})
			return
		}
		writeJSON(w, http.StatusOK, workerStatusResponse{Status: status, LastHeartbeat: lastHeartbeat})
	}
}

// HealthHandler implements GET /health: always 200 OK when the process is up.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func tail(lines []string) []string {
	if len(lines) <= maxTailLines {
		return lines
	}
	return lines[len(lines)-maxTailLines:]
}
