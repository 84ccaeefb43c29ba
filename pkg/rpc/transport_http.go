package rpc

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/docbro/docbro/internal/logger"
)

// maxRequestBody bounds a single RPC message.
const maxRequestBody = 4 << 20

// NewHTTPHandler wraps the server in a single-POST HTTP transport. One
// request per message; notifications are acknowledged with 202 and no body.
func NewHTTPHandler(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"initialized": s.Initialized(),
		})
	})

	r.Post("/rpc", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBody))
		if err != nil {
			http.Error(w, "cannot read body", http.StatusBadRequest)
			return
		}

		resp := s.Dispatch(req.Context(), body)
		if resp == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("cannot write rpc response", logger.KeyError, err.Error())
		}
	})

	return r
}
