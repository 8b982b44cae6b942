package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.translator == nil || s.translator.Stats() == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model":       s.translator.Model(),
		"queue_depth": s.orchestrator.QueueDepth(),
		"sessions":    s.orchestrator.Sessions().Len(),
		"stats":       s.translator.Stats().Snapshot(),
	})
}
