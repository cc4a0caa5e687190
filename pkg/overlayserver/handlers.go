package overlayserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mnohosten/stateoverlay/pkg/overlay"
)

// writeJSON writes a JSON response, matching the {ok, result} envelope
// the rest of the stack's handlers use.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, result interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "result": result})
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]interface{}{"ok": false, "error": message})
}

// entryJSON is the wire shape of one (key, overlayed value) pair.
type entryJSON struct {
	Key        string   `json:"key"`
	Value      string   `json:"value"`
	Present    bool     `json:"present"`
	Extrinsics []uint32 `json:"extrinsics"`
}

func toEntryJSON(key []byte, ov *overlay.OverlayedValue) entryJSON {
	slot := ov.Value()
	return entryJSON{
		Key:        string(key),
		Value:      string(slot.Value),
		Present:    slot.Present,
		Extrinsics: ov.Extrinsics(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]interface{}{
		"uptime": time.Since(s.startTime).String(),
		"empty":  s.cs.IsEmpty(),
	})
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]interface{}{"transactionDepth": s.cs.TransactionDepth()})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	entries := s.cs.Changes()
	out := make([]entryJSON, len(entries))
	for i, e := range entries {
		out[i] = toEntryJSON(e.Key, e.Value)
	}
	writeSuccess(w, out)
}

func (s *Server) handleGetChange(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	ov, ok := s.cs.Get([]byte(key))
	if !ok {
		writeError(w, http.StatusNotFound, "key not found in overlay")
		return
	}
	writeSuccess(w, toEntryJSON([]byte(key), ov))
}

func (s *Server) handleNextChange(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	entry, ok := s.cs.NextChange([]byte(key))
	if !ok {
		writeError(w, http.StatusNotFound, "no key strictly greater than the given key")
		return
	}
	writeSuccess(w, toEntryJSON(entry.Key, entry.Value))
}
