package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"haine/internal/metrics"
	"haine/internal/model"
	"haine/internal/repository/memory"
	"haine/internal/service/auth"
	"haine/internal/service/exchange"
	"haine/internal/service/messaging"
	"haine/internal/service/notify"
	"haine/internal/service/prime"
	"haine/internal/service/updates"
	"haine/internal/utils/ratelimit"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type envelope struct {
	Result  json.RawMessage `json:"result"`
	Error   int             `json:"error"`
	Message string          `json:"message"`
}

type testServer struct {
	*httptest.Server
	t *testing.T
}

func newTestServer(t *testing.T, limiter *ratelimit.KeyLimiter) *testServer {
	t.Helper()

	db := memory.New()
	hub := notify.NewHub()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	authSvc := auth.NewService(db.Users(), db.Tokens(), auth.WithBcryptCost(bcrypt.MinCost))
	srv := NewHttpServer("", Deps{
		Auth:        authSvc,
		Messaging:   messaging.NewService(db.Messages(), authSvc, hub, m, 0),
		Coordinator: exchange.NewCoordinator(db.Exchanges(), authSvc, hub, m),
		Poller:      updates.NewPoller(db.Messages(), db.Exchanges(), hub, m, 300*time.Millisecond, 20*time.Millisecond),
		Primes:      prime.NewProvider(prime.Options{}),
		Metrics:     m,
		Gatherer:    reg,
		AuthLimiter: limiter,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, t: t}
}

func (ts *testServer) do(method, path, token string, params url.Values) (int, envelope) {
	ts.t.Helper()

	var body io.Reader
	target := ts.URL + path
	if method == http.MethodPost {
		body = strings.NewReader(params.Encode())
	} else if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequest(method, target, body)
	require.NoError(ts.t, err)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.Header.Set(authHeader, token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

// register signs up and logs in, returning the token and user id.
func (ts *testServer) register(name string) (string, int64) {
	ts.t.Helper()

	form := url.Values{"name": {name}, "password": {"Secret123"}}
	status, env := ts.do(http.MethodPost, "/auth.signUp", "", form)
	require.Equal(ts.t, http.StatusOK, status, env.Message)

	status, env = ts.do(http.MethodPost, "/auth.logIn", "", form)
	require.Equal(ts.t, http.StatusOK, status, env.Message)

	var res logInResponse
	require.NoError(ts.t, json.Unmarshal(env.Result, &res))
	require.Len(ts.t, res.Token, 64)
	return res.Token, res.ID
}

func (ts *testServer) poll(token string, msgFrom, exFrom int64) model.Updates {
	ts.t.Helper()

	status, env := ts.do(http.MethodGet, "/updates.poll", token, url.Values{
		"next_message_from":  {fmt.Sprint(msgFrom)},
		"next_exchange_from": {fmt.Sprint(exFrom)},
	})
	require.Equal(ts.t, http.StatusOK, status, env.Message)

	var upd model.Updates
	require.NoError(ts.t, json.Unmarshal(env.Result, &upd))
	return upd
}

func TestSignUpAndLogIn(t *testing.T) {
	ts := newTestServer(t, nil)
	_, alice := ts.register("alice")
	_, bob := ts.register("bobby")
	assert.NotEqual(t, alice, bob)

	status, env := ts.do(http.MethodPost, "/auth.signUp", "", url.Values{"name": {"alice"}, "password": {"Secret123"}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 2, env.Error)
	assert.Equal(t, "User exists: alice", env.Message)

	status, env = ts.do(http.MethodPost, "/auth.logIn", "", url.Values{"name": {"alice"}, "password": {"wrong-one"}})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 3, env.Error)
}

func TestErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	token, _ := ts.register("alice")

	t.Run("missing param", func(t *testing.T) {
		status, env := ts.do(http.MethodGet, "/updates.poll", token, url.Values{"next_message_from": {"0"}})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, 1, env.Error)
		assert.Equal(t, "Missed parameter: next_exchange_from", env.Message)
	})

	t.Run("malformed param", func(t *testing.T) {
		status, env := ts.do(http.MethodGet, "/updates.poll", token, url.Values{
			"next_message_from":  {"abc"},
			"next_exchange_from": {"0"},
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, 9, env.Error)
	})

	t.Run("negative cursor", func(t *testing.T) {
		status, env := ts.do(http.MethodGet, "/updates.poll", token, url.Values{
			"next_message_from":  {"0"},
			"next_exchange_from": {"-1"},
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, 9, env.Error)
	})

	t.Run("unauthorized", func(t *testing.T) {
		status, env := ts.do(http.MethodGet, "/updates.poll", "nope", url.Values{
			"next_message_from":  {"0"},
			"next_exchange_from": {"0"},
		})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, 401, env.Error)
	})

	t.Run("unknown route", func(t *testing.T) {
		status, env := ts.do(http.MethodGet, "/nothing.here", token, nil)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, 404, env.Error)
	})

	t.Run("wrong method", func(t *testing.T) {
		status, env := ts.do(http.MethodGet, "/exchange.commit", token, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, status)
		assert.Equal(t, 405, env.Error)
	})

	t.Run("unknown user", func(t *testing.T) {
		status, env := ts.do(http.MethodGet, "/user.get/999", token, nil)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, 4, env.Error)
		assert.Equal(t, "User with id 999 does not exist", env.Message)
	})
}

func TestGetUser(t *testing.T) {
	ts := newTestServer(t, nil)
	token, id := ts.register("alice")

	status, env := ts.do(http.MethodGet, fmt.Sprintf("/user.get/%d", id), token, nil)
	require.Equal(t, http.StatusOK, status)

	var user userResponse
	require.NoError(t, json.Unmarshal(env.Result, &user))
	assert.Equal(t, id, user.ID)
	assert.Equal(t, "alice", user.Name)
	assert.NotZero(t, user.LastSeen)
}

func TestPollTimeoutReturnsEmptyLists(t *testing.T) {
	ts := newTestServer(t, nil)
	token, _ := ts.register("alice")

	started := time.Now()
	status, env := ts.do(http.MethodGet, "/updates.poll", token, url.Values{
		"next_message_from":  {"0"},
		"next_exchange_from": {"0"},
	})
	require.Equal(t, http.StatusOK, status)
	assert.GreaterOrEqual(t, time.Since(started), 300*time.Millisecond)
	assert.JSONEq(t, `{"messages": [], "exchanges": []}`, string(env.Result))
}

func TestPollDeliversMessage(t *testing.T) {
	ts := newTestServer(t, nil)
	aliceToken, alice := ts.register("alice")
	bobToken, bob := ts.register("bobby")

	got := make(chan model.Updates, 1)
	go func() { got <- ts.poll(bobToken, 0, 0) }()

	time.Sleep(50 * time.Millisecond)
	status, env := ts.do(http.MethodPost, "/messages.send", aliceToken, url.Values{
		"to_id": {fmt.Sprint(bob)},
		"text":  {"hi"},
	})
	require.Equal(t, http.StatusOK, status, env.Message)

	var id int64
	require.NoError(t, json.Unmarshal(env.Result, &id))

	select {
	case upd := <-got:
		require.Len(t, upd.Messages, 1)
		m := upd.Messages[0]
		assert.Equal(t, id, m.ID)
		assert.Equal(t, alice, m.PeerID)
		assert.False(t, m.Out)
		assert.Equal(t, "hi", m.Text)
		assert.Empty(t, upd.Exchanges)
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not return")
	}

	// Past the cursor there is nothing left.
	upd := ts.poll(bobToken, id, 0)
	assert.Empty(t, upd.Messages)

	// The sender sees the same message as outgoing.
	upd = ts.poll(aliceToken, 0, 0)
	require.Len(t, upd.Messages, 1)
	assert.True(t, upd.Messages[0].Out)
	assert.Equal(t, bob, upd.Messages[0].PeerID)
}

func TestMessagesEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	aliceToken, _ := ts.register("alice")
	bobToken, bob := ts.register("bobby")

	status, env := ts.do(http.MethodPost, "/messages.send", aliceToken, url.Values{"to_id": {fmt.Sprint(bob)}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 6, env.Error)

	status, env = ts.do(http.MethodPost, "/messages.send", aliceToken, url.Values{"to_id": {"999"}, "text": {"x"}})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, 4, env.Error)

	for _, text := range []string{"one", "two", "three"} {
		status, env = ts.do(http.MethodPost, "/messages.send", aliceToken, url.Values{
			"to_id": {fmt.Sprint(bob)},
			"text":  {text},
		})
		require.Equal(t, http.StatusOK, status, env.Message)
	}

	status, env = ts.do(http.MethodGet, "/messages.getDialogs", bobToken, nil)
	require.Equal(t, http.StatusOK, status)
	var dialogs []model.MessageView
	require.NoError(t, json.Unmarshal(env.Result, &dialogs))
	require.Len(t, dialogs, 1)
	assert.Equal(t, "three", dialogs[0].Text)

	status, env = ts.do(http.MethodGet, "/messages.getHistory", aliceToken, url.Values{
		"peer_id": {fmt.Sprint(bob)},
		"count":   {"2"},
	})
	require.Equal(t, http.StatusOK, status)
	var history []model.MessageView
	require.NoError(t, json.Unmarshal(env.Result, &history))
	require.Len(t, history, 2)
	assert.Equal(t, "three", history[0].Text)
	assert.Equal(t, "two", history[1].Text)
}

func TestExchangeRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)
	aliceToken, alice := ts.register("alice")
	bobToken, bob := ts.register("bobby")

	status, env := ts.do(http.MethodPost, "/exchange.commit", aliceToken, url.Values{
		"p": {"23"}, "g": {"5"}, "public": {"8"}, "to_id": {fmt.Sprint(bob)},
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.JSONEq(t, `1`, string(env.Result))

	upd := ts.poll(bobToken, 0, 0)
	require.Len(t, upd.Exchanges, 1)
	proposed := upd.Exchanges[0]
	assert.Equal(t, alice, proposed.FromID)
	assert.Equal(t, bob, proposed.ToID)
	assert.Equal(t, "8", proposed.PublicFrom)
	assert.Empty(t, proposed.PublicTo)

	status, env = ts.do(http.MethodPost, "/exchange.commit", bobToken, url.Values{
		"p": {"23"}, "g": {"5"}, "public": {"19"}, "to_id": {fmt.Sprint(alice)},
	})
	require.Equal(t, http.StatusOK, status, env.Message)

	upd = ts.poll(aliceToken, 0, proposed.LastUpd)
	require.Len(t, upd.Exchanges, 1)
	responded := upd.Exchanges[0]
	assert.Equal(t, alice, responded.FromID)
	assert.Equal(t, "8", responded.PublicFrom)
	assert.Equal(t, "19", responded.PublicTo)
	assert.Equal(t, bob, responded.LastEditor)
	assert.Greater(t, responded.LastUpd, proposed.LastUpd)

	status, env = ts.do(http.MethodPost, "/exchange.commit", aliceToken, url.Values{
		"p": {"23"}, "g": {"5"}, "public": {"8"}, "to_id": {"999"},
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, 4, env.Error)

	status, env = ts.do(http.MethodPost, "/exchange.commit", aliceToken, url.Values{
		"p": {"23"}, "g": {"5"}, "to_id": {fmt.Sprint(bob)},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 1, env.Error)
}

func TestDHParams(t *testing.T) {
	ts := newTestServer(t, nil)

	status, env := ts.do(http.MethodGet, "/dh.getParams", "", nil)
	require.Equal(t, http.StatusOK, status)

	var params dhParams
	require.NoError(t, json.Unmarshal(env.Result, &params))
	assert.Equal(t, "2", params.G)
	assert.Equal(t, prime.DefaultPrime().String(), params.P)
}

func TestAuthRateLimited(t *testing.T) {
	ts := newTestServer(t, ratelimit.New(0.001, 1, 0))
	form := url.Values{"name": {"alice"}, "password": {"Secret123"}}

	status, _ := ts.do(http.MethodPost, "/auth.signUp", "", form)
	require.Equal(t, http.StatusOK, status)

	status, env := ts.do(http.MethodPost, "/auth.logIn", "", form)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, 429, env.Error)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.register("alice")

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `haine_http_requests_total{code="200",route="/auth.signUp"} 1`)
}

func TestStreamUpdates(t *testing.T) {
	ts := newTestServer(t, nil)
	aliceToken, alice := ts.register("alice")
	bobToken, bob := ts.register("bobby")

	target := "ws" + strings.TrimPrefix(ts.URL, "http") + "/updates.stream?" + url.Values{
		authHeader:           {bobToken},
		"next_message_from":  {"0"},
		"next_exchange_from": {"0"},
	}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	require.NoError(t, err)
	defer conn.Close()

	for _, text := range []string{"first", "second"} {
		status, env := ts.do(http.MethodPost, "/messages.send", aliceToken, url.Values{
			"to_id": {fmt.Sprint(bob)},
			"text":  {text},
		})
		require.Equal(t, http.StatusOK, status, env.Message)
	}

	var seen []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for len(seen) < 2 {
		var frame struct {
			Result model.Updates `json:"result"`
		}
		require.NoError(t, conn.ReadJSON(&frame))
		require.NotEmpty(t, frame.Result.Messages)
		for _, m := range frame.Result.Messages {
			assert.Equal(t, alice, m.PeerID)
			seen = append(seen, m.Text)
		}
	}
	assert.Equal(t, []string{"first", "second"}, seen)
}
