package httpserver

import (
	"context"

	"github.com/fairyhunter13/oltp-olap-sync/internal/domain"
)

// Syncer is the subset of *orchestrator.Orchestrator the Trigger Interface
// drives (spec §4.6).
type Syncer interface {
	Sync(ctx context.Context, req domain.SyncRequest) (domain.SyncResult, error)
}

// Server holds the dependencies the Trigger Interface's handlers need.
type Server struct {
	Sync         Syncer
	SyncToken    string
	LivenessPath string
}

// NewServer constructs a Server.
func NewServer(sync Syncer, syncToken, livenessPath string) *Server {
	return &Server{Sync: sync, SyncToken: syncToken, LivenessPath: livenessPath}
}
