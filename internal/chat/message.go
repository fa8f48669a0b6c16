package chat

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxTextLength = 500
	DefaultLimit  = 100
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
)

type Message struct {
	Id          string `json:"id"`
	SenderId    string `json:"sender_id"`
	SenderName  string `json:"sender_name"`
	SenderColor string `json:"sender_color"`
	Text        string `json:"text"`
	SentAt      int64  `json:"sent_at"`
}

func NormalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return "", ErrMessageTooLong
	}

	return text, nil
}

func NewMessage(senderId, senderName, senderColor, text string, now time.Time) (Message, error) {
	text, err := NormalizeText(text)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Id:          uuid.NewString(),
		SenderId:    senderId,
		SenderName:  senderName,
		SenderColor: senderColor,
		Text:        text,
		SentAt:      now.UnixMilli(),
	}, nil
}

// Append adds m to the end of log, dropping the oldest messages so that at
// most limit remain. A non-positive limit keeps everything.
func Append(log []Message, m Message, limit int) []Message {
	log = append(log, m)
	if limit > 0 && len(log) > limit {
		trimmed := make([]Message, limit)
		copy(trimmed, log[len(log)-limit:])
		return trimmed
	}

	return log
}
