package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/modfin/utskick"
	"github.com/modfin/utskick/internal/dao"
	"github.com/modfin/utskick/internal/profile"
)

type bulkRequest struct {
	utskick.Campaign

	// Sync makes the handler wait for the full delivery report instead of
	// returning a run id straight away.
	Sync bool `json:"sync,omitempty"`
}

func sendBulk(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("could not parse request body"))
			return
		}
		if err = req.Campaign.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if req.Sync {
			report, err := s.engine.RunBulkSend(r.Context(), req.Campaign)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, report)
			return
		}

		run, err := s.engine.Submit(req.Campaign)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, utskick.Receipt{RunID: run.ID})
	}
}

func getRun(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		run, ok := s.engine.Run(id)
		if !ok {
			writeError(w, http.StatusNotFound, errors.New("no such run"))
			return
		}
		if !run.Finished() {
			writeJSON(w, http.StatusAccepted, utskick.Receipt{RunID: run.ID})
			return
		}
		report, err := run.Report()
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func sendEmail(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var email utskick.Email
		err := json.NewDecoder(r.Body).Decode(&email)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("could not parse request body"))
			return
		}
		if len(email.To.Email) == 0 || len(email.From.Email) == 0 || len(email.Subject) == 0 {
			writeError(w, http.StatusBadRequest, errors.New("from, to and subject must be provided"))
			return
		}

		messageId, err := s.engine.SendOne(r.Context(), email)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, utskick.SendResult{MessageId: messageId})
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, utskick.ErrNotABunch), errors.Is(err, profile.ErrUnknownProfile):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, dao.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
