package controller

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

type envelope map[string]any

func (c controller) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		c.logger.Warn("failed to write json", "error", err)
	}
}

func (c controller) writeError(w http.ResponseWriter, status int, err error) {
	c.writeJSON(w, status, envelope{"error": err.Error()})
}

var idCounter atomic.Uint64

// generateTimeBasedId returns ids that sort by creation time and stay
// unique within the process.
func (c controller) generateTimeBasedId() string {
	return strconv.FormatInt(time.Now().UnixMicro(), 36) + "-" + strconv.FormatUint(idCounter.Add(1), 36)
}
