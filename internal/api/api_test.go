package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/ebattle/internal/api"
	"github.com/victornm/ebattle/internal/battle"
	"github.com/victornm/ebattle/internal/domain"
	"github.com/victornm/ebattle/internal/event"
	"github.com/victornm/ebattle/internal/leaderboard"
)

const prefix = "test"

func TestAPI_SessionLifecycle(t *testing.T) {
	env := makeEnv(t)

	var snap api.Snapshot
	env.do(t, http.MethodPost, "/sessions", createBody("u1", "u2"), http.StatusCreated, &snap)
	require.Equal(t, "waiting", snap.Status)
	require.Len(t, snap.Ranking, 2)
	id := snap.SessionID

	env.do(t, http.MethodPost, "/sessions/"+id+"/start", nil, http.StatusOK, &snap)
	require.Equal(t, "active", snap.Status)
	require.Equal(t, 900, snap.RemainingSeconds)

	var res api.ProgressResponse
	env.do(t, http.MethodPost, "/sessions/"+id+"/participants/u2/progress", gin.H{"progress": 72.5}, http.StatusOK, &res)
	assert.Equal(t, 1, res.Rank)
	assert.Equal(t, int64(725), res.Participant.Score)

	env.do(t, http.MethodPost, "/sessions/"+id+"/participants/u1/submissions", gin.H{
		"verdicts": []gin.H{
			{"test_id": "t1", "passed": true},
			{"test_id": "t2", "passed": true},
			{"test_id": "t3", "passed": false},
			{"test_id": "t4", "passed": false},
		},
	}, http.StatusOK, &res)
	assert.Equal(t, 2, res.Rank)
	assert.Equal(t, 2, res.Participant.TestsPassed)
	assert.Equal(t, 4, res.Participant.TestsTotal)

	var tick api.TickResponse
	env.do(t, http.MethodPost, "/sessions/"+id+"/tick", gin.H{"delta_seconds": 30}, http.StatusOK, &tick)
	assert.Equal(t, 30, tick.ElapsedSeconds)
	assert.Equal(t, 870, tick.RemainingSeconds)

	env.do(t, http.MethodPost, "/sessions/"+id+"/settle", nil, http.StatusConflict, nil)

	env.do(t, http.MethodPost, "/sessions/"+id+"/participants/u1/progress", gin.H{"progress": 100}, http.StatusOK, &res)
	env.do(t, http.MethodGet, "/sessions/"+id, nil, http.StatusOK, &snap)
	assert.Equal(t, "active", snap.Status, "u2 has not completed yet")

	env.do(t, http.MethodPost, "/sessions/"+id+"/end", nil, http.StatusOK, &snap)
	assert.Equal(t, "completed", snap.Status)
	assert.Equal(t, "cancelled", snap.Cause)
	assert.Equal(t, "u1", snap.Winner)

	var st api.Settlement
	env.do(t, http.MethodPost, "/sessions/"+id+"/settle", nil, http.StatusOK, &st)
	assert.Equal(t, []api.Award{
		{ParticipantID: "u1", Rank: 1, Completed: true, XP: 200},
		{ParticipantID: "u2", Rank: 2, Completed: false, XP: 0},
	}, st.Awards)

	env.do(t, http.MethodPost, "/sessions/"+id+"/settle", nil, http.StatusOK, &st)
	assert.Empty(t, st.Awards, "rewards are issued once")

	env.do(t, http.MethodPost, "/sessions/"+id+"/settle/replay", nil, http.StatusOK, &st)
	assert.Equal(t, []api.Award{
		{ParticipantID: "u1", Rank: 1, Completed: true, XP: 200},
		{ParticipantID: "u2", Rank: 2, Completed: false, XP: 0},
	}, st.Awards, "replay should return the issued awards")
}

func TestAPI_Errors(t *testing.T) {
	tests := map[string]struct {
		arrange    func(t *testing.T, env *env) (method, path string, body any)
		wantStatus int
		wantReason string
	}{
		"unknown session should be not found": {
			arrange: func(t *testing.T, env *env) (string, string, any) {
				return http.MethodGet, "/sessions/missing", nil
			},
			wantStatus: http.StatusNotFound,
			wantReason: battle.ReasonUnknownSession,
		},

		"malformed body should be a bad request": {
			arrange: func(t *testing.T, env *env) (string, string, any) {
				return http.MethodPost, "/sessions", "{"
			},
			wantStatus: http.StatusBadRequest,
		},

		"unknown difficulty should be a bad request": {
			arrange: func(t *testing.T, env *env) (string, string, any) {
				return http.MethodPost, "/sessions", gin.H{"challenge": gin.H{"challenge_id": "c1", "difficulty": "Legendary"}}
			},
			wantStatus: http.StatusBadRequest,
		},

		"duplicate join should conflict": {
			arrange: func(t *testing.T, env *env) (string, string, any) {
				id := env.create(t, "u1")
				return http.MethodPost, "/sessions/" + id + "/participants", gin.H{"participant_id": "u1"}
			},
			wantStatus: http.StatusConflict,
			wantReason: battle.ReasonAlreadyJoined,
		},

		"join over capacity should be rejected": {
			arrange: func(t *testing.T, env *env) (string, string, any) {
				id := env.create(t, "u1", "u2", "u3", "u4")
				return http.MethodPost, "/sessions/" + id + "/participants", gin.H{"participant_id": "u5"}
			},
			wantStatus: http.StatusTooManyRequests,
			wantReason: battle.ReasonCapacityExceeded,
		},

		"progress before start should conflict": {
			arrange: func(t *testing.T, env *env) (string, string, any) {
				id := env.create(t, "u1")
				return http.MethodPost, "/sessions/" + id + "/participants/u1/progress", gin.H{"progress": 10}
			},
			wantStatus: http.StatusConflict,
			wantReason: battle.ReasonSessionNotActive,
		},

		"regression should conflict": {
			arrange: func(t *testing.T, env *env) (string, string, any) {
				id := env.create(t, "u1")
				env.do(t, http.MethodPost, "/sessions/"+id+"/start", nil, http.StatusOK, nil)
				env.do(t, http.MethodPost, "/sessions/"+id+"/participants/u1/progress", gin.H{"progress": 50}, http.StatusOK, nil)
				return http.MethodPost, "/sessions/" + id + "/participants/u1/progress", gin.H{"progress": 40}
			},
			wantStatus: http.StatusConflict,
			wantReason: battle.ReasonRegressionRejected,
		},

		"negative tick should be a bad request": {
			arrange: func(t *testing.T, env *env) (string, string, any) {
				id := env.create(t, "u1")
				return http.MethodPost, "/sessions/" + id + "/tick", gin.H{"delta_seconds": -1}
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			env := makeEnv(t)
			method, path, body := tt.arrange(t, env)

			var resp struct {
				Error struct {
					Reason  string `json:"reason"`
					Message string `json:"message"`
				} `json:"error"`
			}
			env.do(t, method, path, body, tt.wantStatus, &resp)
			assert.NotEmpty(t, resp.Error.Message)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, resp.Error.Reason)
			}
		})
	}
}

func TestAPI_GetLeaderboard(t *testing.T) {
	env := makeEnv(t)
	id := env.create(t, "u1", "u2")
	env.do(t, http.MethodPost, "/sessions/"+id+"/start", nil, http.StatusOK, nil)
	env.do(t, http.MethodPost, "/sessions/"+id+"/participants/u2/progress", gin.H{"progress": 30}, http.StatusOK, nil)

	require.Eventually(t, func() bool {
		var l api.Leaderboard
		rec := env.serve(http.MethodGet, "/sessions/"+id+"/leaderboard", nil)
		if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &l) != nil {
			return false
		}
		return len(l.Entries) == 2 && l.Entries[0].ParticipantID == "u2" && l.Entries[0].Score == 300
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAPI_PublishLeaderboardUpdated(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	env := makeEnv(t)

	sub := env.redis.Subscribe(ctx, prefix+":user:u1", prefix+":user:u2")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	err = env.api.PublishLeaderboardUpdated(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: domain.Leaderboard{
			SessionID: "s1",
			Entries: []domain.LeaderboardEntry{
				{ParticipantID: "u1", Rank: 1, Score: 500},
				{ParticipantID: "u2", Rank: 2, Score: 100},
			},
		},
	})
	require.NoError(t, err)

	got := make(map[string]api.Leaderboard)
	for range 2 {
		select {
		case msg := <-sub.Channel():
			var n struct {
				Event string          `json:"event"`
				Data  api.Leaderboard `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
			require.Equal(t, domain.EventNameLeaderboardUpdated, n.Event)
			got[msg.Channel] = n.Data
		case <-ctx.Done():
			t.Fatal("should receive a notification per participant")
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[prefix+":user:u2"].SessionID)
	assert.Equal(t, int64(500), got[prefix+":user:u1"].Entries[0].Score)
}

func TestAPI_Stream(t *testing.T) {
	env := makeEnv(t)
	id := env.create(t, "u1")

	srv := httptest.NewServer(env.engine)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/sessions/"+id+"/stream", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	read := func() api.Snapshot {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var n struct {
			Event string       `json:"event"`
			Data  api.Snapshot `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&n))
		return n.Data
	}

	first := read()
	require.Equal(t, "waiting", first.Status)

	env.do(t, http.MethodPost, "/sessions/"+id+"/start", nil, http.StatusOK, nil)
	started := read()
	require.Equal(t, "active", started.Status)
	require.Greater(t, started.Version, first.Version)

	env.do(t, http.MethodPost, "/sessions/"+id+"/participants/u1/progress", gin.H{"progress": 100}, http.StatusOK, nil)

	var final api.Snapshot
	for final.Status != "completed" {
		final = read()
	}
	assert.Equal(t, "all_completed", final.Cause)
	assert.Equal(t, "u1", final.Winner)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "stream should close once the session completes: %v", err)
}

func TestAPI_StreamUnknownSession(t *testing.T) {
	env := makeEnv(t)
	rec := env.serve(http.MethodGet, "/sessions/missing/stream", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

type env struct {
	engine *gin.Engine
	api    *api.API
	redis  redis.UniversalClient
}

func makeEnv(t *testing.T) *env {
	gin.SetMode(gin.TestMode)

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	t.Cleanup(func() { rc.Close() })

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	bs := battle.NewService(battle.Config{
		EventBus:        eb,
		DurationSeconds: battle.DefaultDurationSeconds,
		MaxParticipants: battle.DefaultMaxParticipants,
	})
	t.Cleanup(bs.Stop)

	e := gin.New()
	a := api.New(api.Config{
		HTTP:     e,
		EventBus: eb,
		Battle:   bs,
		Leaderboard: leaderboard.NewService(leaderboard.Config{
			EventBus: eb,
			Redis:    rc,
			Prefix:   prefix,
		}),
		Redis:        rc,
		PubsubPrefix: prefix,
	})
	t.Cleanup(a.Shutdown)

	return &env{engine: e, api: a, redis: rc}
}

func (e *env) serve(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func (e *env) do(t *testing.T, method, path string, body any, wantStatus int, out any) {
	t.Helper()

	rec := e.serve(method, path, body)
	require.Equal(t, wantStatus, rec.Code, "unexpected status: %s", rec.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
}

func (e *env) create(t *testing.T, participants ...string) string {
	var snap api.Snapshot
	e.do(t, http.MethodPost, "/sessions", createBody(participants...), http.StatusCreated, &snap)
	return snap.SessionID
}

func createBody(participants ...string) gin.H {
	ps := make([]gin.H, 0, len(participants))
	for _, p := range participants {
		ps = append(ps, gin.H{"participant_id": p})
	}

	return gin.H{
		"challenge": gin.H{
			"challenge_id": "binary-tree-traversal",
			"title":        "Binary Tree Traversal",
			"difficulty":   "Advanced",
			"xp_reward":    200,
		},
		"participants": ps,
	}
}
