package wsrouter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchsync/pkg/wsconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X int `json:"x"`
}

type recorder struct {
	errs []error
}

func (rec *recorder) handle(_ context.Context, _ *wsconn.Conn, err error) {
	rec.errs = append(rec.errs, err)
}

func newTestRouter() (*WSRouter, *recorder) {
	r := New()
	rec := &recorder{}
	r.SetErrorHandler(rec.handle)
	return r, rec
}

func TestDispatchDecodesPayload(t *testing.T) {
	r, rec := newTestRouter()

	var (
		got         point
		gotType     string
		gotRequest  string
		gotBareName string
	)
	Handle(r, "move", func(ctx context.Context, _ *wsconn.Conn, p point) error {
		got = p
		gotType = GetMessageTypeFromCtx(ctx)
		gotRequest = GetRequestIdFromCtx(ctx)
		return nil
	})
	Handle(r, "name", func(_ context.Context, _ *wsconn.Conn, s string) error {
		gotBareName = s
		return nil
	})

	r.dispatch(context.Background(), nil, []byte(`{"type":"move","request_id":"42","payload":{"x":7}}`))
	r.dispatch(context.Background(), nil, []byte(`{"type":"name","payload":"room-1"}`))

	assert.Empty(t, rec.errs)
	assert.Equal(t, point{X: 7}, got)
	assert.Equal(t, "move", gotType)
	assert.Equal(t, "42", gotRequest)
	assert.Equal(t, "room-1", gotBareName)
}

func TestDispatchNullPayloadIsZero(t *testing.T) {
	r, rec := newTestRouter()

	called := 0
	Handle(r, "ping", func(_ context.Context, _ *wsconn.Conn, p *point) error {
		assert.Nil(t, p)
		called++
		return nil
	})

	r.dispatch(context.Background(), nil, []byte(`{"type":"ping","payload":null}`))
	r.dispatch(context.Background(), nil, []byte(`{"type":"ping"}`))

	assert.Empty(t, rec.errs)
	assert.Equal(t, 2, called)
}

func TestDispatchErrors(t *testing.T) {
	r, rec := newTestRouter()

	errBoom := errors.New("boom")
	Handle(r, "move", func(context.Context, *wsconn.Conn, point) error { return errBoom })
	Handle(r, "panic", func(context.Context, *wsconn.Conn, point) error { panic("oops") })

	r.dispatch(context.Background(), nil, []byte(`not json`))
	r.dispatch(context.Background(), nil, []byte(`{"type":"nope"}`))
	r.dispatch(context.Background(), nil, []byte(`{"type":"move","payload":"wrong"}`))
	r.dispatch(context.Background(), nil, []byte(`{"type":"move","payload":{"x":1}}`))
	r.dispatch(context.Background(), nil, []byte(`{"type":"panic"}`))

	require.Len(t, rec.errs, 5)
	assert.ErrorIs(t, rec.errs[0], ErrInvalidMessage)
	assert.ErrorIs(t, rec.errs[1], ErrUnknownType)
	assert.ErrorIs(t, rec.errs[2], ErrInvalidPayload)
	assert.ErrorIs(t, rec.errs[3], errBoom)
	assert.Contains(t, rec.errs[4].Error(), "oops")
}

func TestMiddlewareOrder(t *testing.T) {
	r, _ := newTestRouter()

	var trace []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc[any]) HandlerFunc[any] {
			return func(ctx context.Context, conn *wsconn.Conn, payload any) error {
				trace = append(trace, name)
				return next(ctx, conn, payload)
			}
		}
	}
	r.Use(mw("outer"), mw("inner"))
	Handle(r, "move", func(context.Context, *wsconn.Conn, point) error {
		trace = append(trace, "handler")
		return nil
	})

	r.dispatch(context.Background(), nil, []byte(`{"type":"move","payload":{"x":1}}`))

	assert.Equal(t, []string{"outer", "inner", "handler"}, trace)
}

func TestServeConnReturnsOnDisconnect(t *testing.T) {
	r, _ := newTestRouter()

	received := make(chan point, 1)
	Handle(r, "move", func(_ context.Context, _ *wsconn.Conn, p point) error {
		received <- p
		return nil
	})

	served := make(chan error, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		served <- r.ServeConn(context.Background(), wsconn.New(ws, wsconn.DefaultConfig()))
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"move","payload":{"x":3}}`)))
	select {
	case p := <-received:
		assert.Equal(t, 3, p.X)
	case <-time.After(2 * time.Second):
		t.Fatal("message not dispatched")
	}

	client.Close()
	select {
	case err := <-served:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeConn did not return")
	}
}
