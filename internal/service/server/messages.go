package server

import (
	"net/http"

	"haine/internal/service/messaging"
)

func (s *HttpServer) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		toID, err := requireInt(r, "to_id")
		if err != nil {
			writeError(w, err)
			return
		}
		stickerID, err := optionalInt(r, "sticker_id", 0)
		if err != nil {
			writeError(w, err)
			return
		}

		id, err := s.messaging.Send(r.Context(), userID(r.Context()), messaging.SendRequest{
			ToID:       toID,
			Text:       r.FormValue("text"),
			Attachment: r.FormValue("attachment"),
			StickerID:  stickerID,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, id)
	}
}

func (s *HttpServer) GetDialogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := s.messaging.Dialogs(r.Context(), userID(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, views)
	}
}

func (s *HttpServer) GetHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID, err := requireInt(r, "peer_id")
		if err != nil {
			writeError(w, err)
			return
		}
		before, err := optionalInt(r, "before", 0)
		if err != nil {
			writeError(w, err)
			return
		}
		count, err := optionalInt(r, "count", 0)
		if err != nil {
			writeError(w, err)
			return
		}

		views, err := s.messaging.History(r.Context(), userID(r.Context()), peerID, before, int(count))
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, views)
	}
}
