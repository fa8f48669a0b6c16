package controller

import "context"

type contextKey int

const (
	sessionCtxKey contextKey = iota
)

// session is the per-connection state. It is only touched by the goroutine
// serving the connection.
type session struct {
	roomId   string
	memberId string
}

func (s *session) joined() bool {
	return s != nil && s.memberId != ""
}

func (c controller) getSessionFromCtx(ctx context.Context) *session {
	sess, ok := ctx.Value(sessionCtxKey).(*session)
	if !ok {
		return nil
	}

	return sess
}
