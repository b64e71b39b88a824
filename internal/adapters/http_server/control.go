package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"reviews_app/internal/interceptor"
)

// MountInterceptor adds the page-to-process message channel.
func (s *Server) MountInterceptor(p *interceptor.Process) {
	s.mux.Post("/_interceptor/messages", func(w http.ResponseWriter, r *http.Request) {
		var m interceptor.Message
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&m); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid message", err.Error())
			return
		}
		err := p.Post(r.Context(), m)
		switch {
		case errors.Is(err, interceptor.ErrUnknownAction):
			writeProblem(w, http.StatusBadRequest, "Unknown action", err.Error())
		case err != nil:
			log.Warn().Err(err).Str("action", m.Action).Msg("interceptor message failed")
			writeProblem(w, http.StatusInternalServerError, "Message failed", err.Error())
		default:
			w.WriteHeader(http.StatusAccepted)
		}
	})
	s.mux.Get("/_interceptor/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(p.Status()); err != nil {
			log.Error().Err(err).Msg("write interceptor state")
		}
	})
}

// WithProxy sends proxy-form requests to the interception process and
// everything else to next.
func WithProxy(p *interceptor.Process, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodConnect || interceptor.IsProxyRequest(r) {
			p.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
