package model

type (
	// Message is immutable once stored. Exactly one of Text, Attachment and
	// StickerID carries the payload.
	Message struct {
		ID         int64  `bson:"_id" json:"id"`
		FromID     int64  `bson:"from_id" json:"from_id"`
		ToID       int64  `bson:"to_id" json:"to_id"`
		Text       string `bson:"text,omitempty" json:"text,omitempty"`
		Attachment string `bson:"attachment,omitempty" json:"attachment,omitempty"`
		StickerID  int64  `bson:"sticker_id,omitempty" json:"sticker_id,omitempty"`
		Time       int64  `bson:"time" json:"time"`
	}

	// MessageView is a message as seen by one of its two participants.
	MessageView struct {
		ID         int64  `json:"id"`
		PeerID     int64  `json:"peer_id"`
		Out        bool   `json:"out"`
		Text       string `json:"text"`
		Time       int64  `json:"time"`
		Attachment string `json:"attachment,omitempty"`
		StickerID  int64  `json:"sticker_id,omitempty"`
	}
)

func (m *Message) Involves(userID int64) bool {
	return m.FromID == userID || m.ToID == userID
}

func (m *Message) View(userID int64) MessageView {
	out := m.FromID == userID
	peerID := m.FromID
	if out {
		peerID = m.ToID
	}

	return MessageView{
		ID:         m.ID,
		PeerID:     peerID,
		Out:        out,
		Text:       m.Text,
		Time:       m.Time,
		Attachment: m.Attachment,
		StickerID:  m.StickerID,
	}
}

func Views(userID int64, messages []*Message) []MessageView {
	views := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, m.View(userID))
	}
	return views
}
