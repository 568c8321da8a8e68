package server

import (
	"net/http"

	"haine/internal/service/exchange"
)

type dhParams struct {
	P string `json:"p"`
	G string `json:"g"`
}

func (s *HttpServer) CommitExchange() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req exchange.CommitRequest
		var err error

		if req.P, err = requireString(r, "p"); err != nil {
			writeError(w, err)
			return
		}
		if req.G, err = requireString(r, "g"); err != nil {
			writeError(w, err)
			return
		}
		if req.Public, err = requireString(r, "public"); err != nil {
			writeError(w, err)
			return
		}
		if req.ToID, err = requireInt(r, "to_id"); err != nil {
			writeError(w, err)
			return
		}

		if _, err := s.coordinator.Commit(r.Context(), userID(r.Context()), req); err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, 1)
	}
}

func (s *HttpServer) GetDHParams() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, g := s.primes.Params()
		writeResult(w, dhParams{P: p, G: g})
	}
}
