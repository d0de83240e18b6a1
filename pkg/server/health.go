package server

import (
	"encoding/json"
	"net/http"

	"github.com/certen/sidechain-node/pkg/ledger"
)

// handleHealth reports liveness plus the latest committed block number, so a
// load balancer or peer can distinguish a live-but-stuck node from one that
// has never produced a block.
func handleHealth(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		status := map[string]interface{}{"status": "ok"}
		if latest, err := l.GetLatestBlock(); err == nil {
			status["latestBlockNumber"] = latest.BlockNumber
		} else if err != ledger.ErrNotFound {
			status["status"] = "degraded"
			status["error"] = err.Error()
		}

		json.NewEncoder(w).Encode(status)
	}
}
