package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/socialsync/internal/api"
	"github.com/d60-Lab/socialsync/internal/api/handler"
	"github.com/d60-Lab/socialsync/internal/counter"
	"github.com/d60-Lab/socialsync/internal/fanout"
	"github.com/d60-Lab/socialsync/internal/feed"
	"github.com/d60-Lab/socialsync/internal/notification"
	"github.com/d60-Lab/socialsync/internal/repository"
	"github.com/d60-Lab/socialsync/internal/search"
	"github.com/d60-Lab/socialsync/internal/service"
	"github.com/d60-Lab/socialsync/internal/testutil"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

type server struct {
	t      *testing.T
	router *gin.Engine
	disp   *fanout.Dispatcher
}

func newServer(t *testing.T) *server {
	gin.SetMode(gin.TestMode)
	cfg := testutil.Config()
	db := testutil.NewDB(t)
	counters := counter.NewReconciler(db, cfg.Counter)
	disp := fanout.NewDispatcher(db, cfg.Fanout,
		notification.NewBuilder(cfg.Notification, nil),
		search.NewIndexer(nil),
		feed.NewMaterializer(cfg.Feed, nil),
	)
	gw := service.NewGateway(repository.NewStore(db), counters, cfg, disp)
	h := handler.NewHandler(db, gw, feed.NewAssembler(db, cfg.Feed, nil), notification.NewInbox(db), counters, disp)
	return &server{t: t, router: api.NewRouter(h, ""), disp: disp}
}

func (s *server) do(method, path, actor, body string) (int, envelope) {
	s.t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		r.Header.Set(handler.ActorHeader, actor)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func (s *server) drain() {
	s.t.Helper()
	require.NoError(s.t, s.disp.Drain(context.Background()))
}

func TestHealthz(t *testing.T) {
	s := newServer(t)
	code, _ := s.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestCommandStatusMapping(t *testing.T) {
	s := newServer(t)
	a, b := testutil.Addr(1), testutil.Addr(2)

	code, _ := s.do(http.MethodPost, "/api/v1/commands/create_account", a, `{"display_name":"Ann"}`)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodPost, "/api/v1/commands/create_account", b, "")
	require.Equal(t, http.StatusOK, code, "an empty body is an empty command")

	code, env := s.do(http.MethodPost, "/api/v1/commands/create_account", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, code, "missing actor header")
	assert.Equal(t, "validation", env.Kind)

	code, env = s.do(http.MethodPost, "/api/v1/commands/teleport", a, `{}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Kind)

	code, _ = s.do(http.MethodPost, "/api/v1/commands/follow", a, `{"target_id":`)
	assert.Equal(t, http.StatusBadRequest, code, "malformed json")

	body := `{"target_id":"` + b + `","strict":true,"idempotency_key":"k-1"}`
	code, env = s.do(http.MethodPost, "/api/v1/commands/follow", a, body)
	require.Equal(t, http.StatusOK, code)
	var res struct {
		Seq            int64  `json:"seq"`
		IdempotencyKey string `json:"idempotency_key"`
		Replayed       bool   `json:"replayed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Positive(t, res.Seq)
	assert.Equal(t, "k-1", res.IdempotencyKey)

	// same key replays even with strict set
	code, env = s.do(http.MethodPost, "/api/v1/commands/follow", a, body)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Replayed)

	code, env = s.do(http.MethodPost, "/api/v1/commands/follow", a, `{"target_id":"`+b+`","strict":true}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "conflict", env.Kind)

	code, _ = s.do(http.MethodPost, "/api/v1/commands/follow", a, `{"target_id":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReadEndpoints(t *testing.T) {
	s := newServer(t)
	a, b := testutil.Addr(1), testutil.Addr(2)
	for _, id := range []string{a, b} {
		code, _ := s.do(http.MethodPost, "/api/v1/commands/create_account", id, `{}`)
		require.Equal(t, http.StatusOK, code)
	}
	code, _ := s.do(http.MethodPost, "/api/v1/commands/follow", b, `{"target_id":"`+a+`"}`)
	require.Equal(t, http.StatusOK, code)
	code, env := s.do(http.MethodPost, "/api/v1/commands/create_post", a, `{"content":"hello"}`)
	require.Equal(t, http.StatusOK, code)
	var created struct {
		EntityID string `json:"entity_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	s.drain()

	code, _ = s.do(http.MethodGet, "/api/v1/feeds/home", "", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(http.MethodGet, "/api/v1/feeds/home?limit=10", b, "")
	require.Equal(t, http.StatusOK, code)
	var page feed.Page
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, created.EntityID, page.Items[0].ID)

	code, _ = s.do(http.MethodGet, "/api/v1/feeds/home?cursor=%25%25", b, "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(http.MethodGet, "/api/v1/feeds/nope", b, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodGet, "/api/v1/posts/"+created.EntityID+"/counters", "", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodGet, "/api/v1/posts/6f1c1a46-5b0e-4c53-9d0d-6c8c0f7b5a01/counters", "", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodGet, "/api/v1/search/post/"+created.EntityID, "", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodGet, "/api/v1/search/post/6f1c1a46-5b0e-4c53-9d0d-6c8c0f7b5a01", "", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestNotificationEndpoints(t *testing.T) {
	s := newServer(t)
	a, b := testutil.Addr(1), testutil.Addr(2)
	for _, id := range []string{a, b} {
		code, _ := s.do(http.MethodPost, "/api/v1/commands/create_account", id, `{}`)
		require.Equal(t, http.StatusOK, code)
	}
	code, _ := s.do(http.MethodPost, "/api/v1/commands/follow", b, `{"target_id":"`+a+`"}`)
	require.Equal(t, http.StatusOK, code)
	s.drain()

	unread := func() int64 {
		code, env := s.do(http.MethodGet, "/api/v1/notifications/unread_count", a, "")
		require.Equal(t, http.StatusOK, code)
		var out struct {
			Unread int64 `json:"unread"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &out))
		return out.Unread
	}
	assert.Equal(t, int64(1), unread())

	code, env := s.do(http.MethodGet, "/api/v1/notifications?unread=true", a, "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"action_type":"follow"`)

	code, _ = s.do(http.MethodGet, "/api/v1/notifications?before=yesterday", a, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPost, "/api/v1/notifications/read", a, `{"all":true}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(0), unread())
}

func TestAdminEndpoints(t *testing.T) {
	s := newServer(t)
	code, _ := s.do(http.MethodPost, "/api/v1/commands/create_account", testutil.Addr(1), `{}`)
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(http.MethodGet, "/api/v1/admin/dispatcher", "", "")
	require.Equal(t, http.StatusOK, code)
	var stats struct {
		Pending int64 `json:"pending"`
		Dead    int64 `json:"dead"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(1), stats.Pending)

	s.drain()
	code, env = s.do(http.MethodGet, "/api/v1/admin/dispatcher", "", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Zero(t, stats.Pending)

	code, _ = s.do(http.MethodPost, "/api/v1/admin/records/x/requeue", "", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(http.MethodPost, "/api/v1/admin/records/999/requeue", "", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodPost, "/api/v1/admin/reconcile", "", "")
	assert.Equal(t, http.StatusOK, code)
}
