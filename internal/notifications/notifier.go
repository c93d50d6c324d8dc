package notifications

import (
	"context"
	"time"
)

type NoticeKind string

const (
	NoticePasswordChanged NoticeKind = "password_changed"
	NoticeRoleChanged     NoticeKind = "role_changed"
)

// SecurityNotice tells an account holder that something sensitive changed on
// their account.
type SecurityNotice struct {
	Kind    NoticeKind
	UserID  string
	Email   string
	Name    string
	ActorID string
	Detail  string
	At      time.Time
}

type Notifier interface {
	SendSecurityNotice(ctx context.Context, notice SecurityNotice) error
}
