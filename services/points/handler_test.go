package points

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kudos/pkg/middleware"
	"kudos/services/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, limiter ratelimit.Limiter) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, _ := newTestService(t, defaultAwards(), limiter)
	r := gin.New()
	r.Use(middleware.Error())
	RegisterRoutes(r, NewHandler(svc))
	return r, svc
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestHandlerAward(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := do(r, http.MethodPost, "/v1/awards", AwardRequest{
		WorkspaceID: "W1", ChannelID: "C1", MessageRef: "M1", ActorID: "ALICE", Text: "<@BOB>++",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res AwardResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, "<@BOB> has 1 points.", res.Text)
	require.Equal(t, "BOB", res.Credits[0].RecipientID)

	w = do(r, http.MethodGet, "/v1/workspaces/W1/points/BOB?requester_id=ALICE", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"user_id":"BOB","points":1,"text":"<@BOB> has 1 points."}`, w.Body.String())
}

func TestHandlerSelfAward(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := do(r, http.MethodPost, "/v1/awards/give", GiveRequest{
		WorkspaceID: "W1", ChannelID: "C1", ActorID: "ALICE", RecipientID: "ALICE",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "bad_request", body.Error.Code)
	require.Equal(t, "Self-awards are not allowed.", body.Error.Message)
}

func TestHandlerRateLimited(t *testing.T) {
	limiter := &limiterMock{CheckFunc: func(context.Context, string, string, int) (ratelimit.Decision, error) {
		return ratelimit.Decision{ResetAt: epoch.Add(42 * time.Second)}, nil
	}}
	r, _ := newTestRouter(t, limiter)

	w := do(r, http.MethodPost, "/v1/awards", AwardRequest{
		WorkspaceID: "W1", ChannelID: "C1", MessageRef: "M1", ActorID: "ALICE", Text: "<@BOB>++",
	})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "42", w.Header().Get("Retry-After"))
}

func TestHandlerMalformedBody(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/awards", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerQueries(t *testing.T) {
	r, svc := newTestRouter(t, nil)
	ctx := context.Background()

	_, err := svc.Award(ctx, AwardRequest{WorkspaceID: "W1", ChannelID: "C1", MessageRef: "M1", ActorID: "ALICE", Text: "<@BOB>++ for docs"})
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
		code int
		text string
	}{
		{
			name: "leaderboard",
			path: "/v1/workspaces/W1/leaderboard?requester_id=ALICE",
			code: http.StatusOK,
			text: "Leaderboard:\n1. <@BOB> — 1",
		},
		{
			name: "weekly leaderboard",
			path: "/v1/workspaces/W1/leaderboard?requester_id=ALICE&period=WEEK",
			code: http.StatusOK,
			text: "Leaderboard (last 7 days):\n1. <@BOB> — 1",
		},
		{
			name: "empty workspace",
			path: "/v1/workspaces/W2/leaderboard?requester_id=ALICE&period=month",
			code: http.StatusOK,
			text: "No points yet.",
		},
		{
			name: "history",
			path: "/v1/workspaces/W1/history/BOB?requester_id=ALICE",
			code: http.StatusOK,
			text: "Recent awards for <@BOB>:\n1. <@ALICE> — docs (2026-10-16)",
		},
		{
			name: "own history",
			path: "/v1/workspaces/W1/history?requester_id=ALICE",
			code: http.StatusOK,
			text: "No recent awards for <@ALICE>.",
		},
		{
			name: "stats",
			path: "/v1/workspaces/W1/stats?requester_id=ALICE",
			code: http.StatusOK,
			text: "Top givers:\n1. <@ALICE> — 1\n\nTop receivers:\n1. <@BOB> — 1",
		},
		{
			name: "own points",
			path: "/v1/workspaces/W1/points?requester_id=BOB",
			code: http.StatusOK,
			text: "<@BOB> has 1 points.",
		},
		{name: "bad period", path: "/v1/workspaces/W1/leaderboard?requester_id=ALICE&period=year", code: http.StatusBadRequest},
		{name: "missing requester", path: "/v1/workspaces/W1/stats", code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.text == "" {
				return
			}
			var body struct {
				Text string `json:"text"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.Equal(t, tt.text, body.Text)
		})
	}
}
