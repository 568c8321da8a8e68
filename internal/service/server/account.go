package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

type (
	logInResponse struct {
		Token string `json:"token"`
		ID    int64  `json:"id"`
	}

	userResponse struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		LastSeen int64  `json:"last_seen"`
	}
)

func (s *HttpServer) SignUp() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := requireString(r, "name")
		if err != nil {
			writeError(w, err)
			return
		}
		password, err := requireString(r, "password")
		if err != nil {
			writeError(w, err)
			return
		}

		id, err := s.auth.SignUp(r.Context(), name, password)
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, id)
	}
}

func (s *HttpServer) LogIn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := requireString(r, "name")
		if err != nil {
			writeError(w, err)
			return
		}
		password, err := requireString(r, "password")
		if err != nil {
			writeError(w, err)
			return
		}

		token, err := s.auth.LogIn(r.Context(), name, password)
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, logInResponse{Token: token.Token, ID: token.UserID})
	}
}

func (s *HttpServer) GetUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseInt("user_id", mux.Vars(r)["user_id"])
		if err != nil {
			writeError(w, err)
			return
		}

		user, err := s.auth.GetUser(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, userResponse{ID: user.ID, Name: user.Name, LastSeen: user.LastSeen})
	}
}
