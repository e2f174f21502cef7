package adapthttp

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"healthmate/internal/app"
	"healthmate/internal/domain"
)

func (s *Server) handleBMICalculate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WeightKg flexNumber `json:"weightKg"`
		HeightCm flexNumber `json:"heightCm"`
		Unit     string     `json:"unit"`
	}
	if err := parseJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	uid := userID(r)
	res, err := s.bmi.Calculate(r.Context(), uid, app.BMIInput{
		Weight:     string(body.WeightKg),
		Height:     string(body.HeightCm),
		WeightUnit: body.Unit,
	})
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Error(), "field": verr.Field})
		return
	case errors.Is(err, app.ErrBadUnit):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "field": "unit"})
		return
	case err != nil:
		s.log.Error("record bmi", zap.Int64("user_id", uid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res, "recorded": uid != 0})
}

func (s *Server) handleBMIRecent(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 14)
	items, err := s.bmi.ListRecent(r.Context(), userID(r), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleBMIUndoLast(w http.ResponseWriter, r *http.Request) {
	deleted, latest, err := s.bmi.UndoLast(r.Context(), userID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": deleted, "latest": latest})
}
