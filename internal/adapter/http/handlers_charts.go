package adapthttp

import (
	"net/http"
	"time"
)

func (s *Server) handleChartsDaily(w http.ResponseWriter, r *http.Request) {
	days := intQuery(r, "days", 90)
	points, err := s.charts.GetDaily(r.Context(), userID(r), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"days":  len(points),
		"today": localDayString(time.Now()),
		"items": points,
	})
}
