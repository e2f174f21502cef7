package adapthttp

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"healthmate/internal/app"
	"healthmate/internal/domain"
)

func (s *Server) handleLikes(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"questions": s.likes.LoadLikedQuestions(r.Context(), uid),
		"answers":   s.likes.LoadLikedAnswers(r.Context(), uid),
	})
}

// toggleCounts is the optional toggle body. LikesCount is the count the
// client currently displays and BaselineCount the server-reported count.
type toggleCounts struct {
	LikesCount    *int `json:"likesCount"`
	BaselineCount *int `json:"baselineCount"`
}

// parseToggleCounts reads the optional body. An empty body is allowed.
func parseToggleCounts(w http.ResponseWriter, r *http.Request) (toggleCounts, error) {
	var c toggleCounts
	if err := parseJSON(w, r, &c); err != nil && !errors.Is(err, io.EOF) {
		return toggleCounts{}, err
	}
	return c, nil
}

func (s *Server) handleToggleQuestionLike(w http.ResponseWriter, r *http.Request) {
	qid, err := idParam(r, "questionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	counts, err := parseToggleCounts(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.likes.ToggleQuestion(r.Context(), userID(r), qid)
	s.writeToggle(w, map[string]any{"questionId": qid}, counts, res, err)
}

func (s *Server) handleToggleAnswerLike(w http.ResponseWriter, r *http.Request) {
	qid, err := idParam(r, "questionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	aid, err := idParam(r, "answerID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	counts, err := parseToggleCounts(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.likes.ToggleAnswer(r.Context(), userID(r), qid, aid)
	s.writeToggle(w, map[string]any{"questionId": qid, "answerId": aid}, counts, res, err)
}

// writeToggle reports a toggle. An unpersisted optimistic toggle is still a
// success; a rolled-back or refused one is reported as unavailable. When the
// client sent its displayed count the adjusted count is returned, never
// below the server baseline.
func (s *Server) writeToggle(w http.ResponseWriter, body map[string]any, counts toggleCounts, res app.ToggleResult, err error) {
	if errors.Is(err, app.ErrLedgerUnavailable) {
		s.log.Warn("toggle refused", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	body["liked"] = res.Liked
	body["delta"] = res.Delta
	body["persisted"] = res.Persisted
	if counts.LikesCount != nil {
		baseline := 0
		if counts.BaselineCount != nil {
			baseline = *counts.BaselineCount
		}
		body["likesCount"] = domain.ApplyDelta(*counts.LikesCount, baseline, res.Delta)
	}

	status := http.StatusOK
	if err != nil {
		var perr *app.PersistenceError
		if !errors.As(err, &perr) {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		body["error"] = perr.Error()
		if s.likes.RollbackOnPersistError() {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, body)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Questions []domain.Question `json:"questions"`
	}
	if err := parseJSONLoose(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"overlay":   s.likes.Overlay().String(),
		"questions": s.likes.Reconcile(r.Context(), userID(r), body.Questions),
	})
}
