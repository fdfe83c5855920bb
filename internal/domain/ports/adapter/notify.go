package adapter

import "context"

type NoticeLevel string

const (
	NoticeError   NoticeLevel = "error"
	NoticeWarning NoticeLevel = "warning"
	NoticeInfo    NoticeLevel = "info"
)

// Notice is a fire-and-forget message for the user.
type Notice struct {
	Level NoticeLevel `json:"level"`
	Text  string      `json:"text"`
}

// Notifier presents notices. Delivery failures are never fatal to the
// caller; they are logged and dropped.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}
