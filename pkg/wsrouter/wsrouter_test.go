package wsrouter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seekInput struct {
	Position float64 `json:"position"`
}

func TestDispatch(t *testing.T) {
	r := New()

	var calls []string
	r.Use(func(next HandlerFunc[any]) HandlerFunc[any] {
		return func(ctx context.Context, conn *Conn, payload any) error {
			calls = append(calls, "mw:"+GetMessageTypeFromCtx(ctx))
			return next(ctx, conn, payload)
		}
	})

	var got float64
	Handle(r, "SEEK", func(_ context.Context, _ *Conn, input seekInput) error {
		calls = append(calls, "handler")
		got = input.Position
		return nil
	})

	ctx := context.Background()

	err := r.Dispatch(ctx, nil, []byte(`{"type":"SEEK","payload":{"position":12.5}}`))
	require.NoError(t, err)
	assert.Equal(t, 12.5, got)
	assert.Equal(t, []string{"mw:SEEK", "handler"}, calls)

	err = r.Dispatch(ctx, nil, []byte(`{"type":"SEEK","payload":{"position":"x"}}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	err = r.Dispatch(ctx, nil, []byte(`{"type":"SEEK","payload":{"position":1,"extra":true}}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	err = r.Dispatch(ctx, nil, []byte(`{"type":"NOPE","payload":{}}`))
	assert.ErrorIs(t, err, ErrUnknownMessageType)

	err = r.Dispatch(ctx, nil, []byte(`{"type":"SEEK","payload":{},"junk":1}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	err = r.Dispatch(ctx, nil, []byte(`{"type":"SEEK"}`))
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}

func TestConnWithoutSocket(t *testing.T) {
	c := NewConn(nil)
	assert.ErrorIs(t, c.WriteJSON(map[string]string{}), ErrNoConn)
	assert.NoError(t, c.Close())
	assert.Equal(t, "", c.RemoteAddr())
}
