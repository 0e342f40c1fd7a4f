package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/ebattle/internal/battle"
	"github.com/victornm/ebattle/internal/domain"
	"github.com/victornm/ebattle/internal/errors"
	"github.com/victornm/ebattle/internal/event"
	"github.com/victornm/ebattle/internal/leaderboard"
	"github.com/victornm/ebattle/internal/ledger"
)

type Config struct {
	HTTP        gin.IRouter
	GRPC        *grpc.Server
	EventBus    *event.Bus
	Battle      *battle.Service
	Leaderboard *leaderboard.Service
	// Ledger is optional, the XP routes are not registered without it.
	Ledger       *ledger.Service
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	bs *battle.Service
	ls *leaderboard.Service
	xs *ledger.Service

	health *health.Server
	hub    *hub

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		bs:     c.Battle,
		ls:     c.Leaderboard,
		xs:     c.Ledger,
		health: health.NewServer(),
		hub:    newHub(),
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	// gRPC APIs
	if c.GRPC != nil {
		healthpb.RegisterHealthServer(c.GRPC, a.health)
	}

	// HTTP APIs
	r := c.HTTP.Group("/sessions")
	r.POST("", a.createSession)
	r.GET("/:id", a.getSnapshot)
	r.POST("/:id/participants", a.join)
	r.POST("/:id/start", a.start)
	r.POST("/:id/participants/:pid/progress", a.applyProgress)
	r.POST("/:id/participants/:pid/submissions", a.submit)
	r.POST("/:id/tick", a.tick)
	r.POST("/:id/end", a.end)
	r.POST("/:id/settle", a.settle)
	r.POST("/:id/settle/replay", a.replaySettlement)
	r.GET("/:id/stream", a.stream)

	if a.ls != nil {
		r.GET("/:id/leaderboard", a.getLeaderboard)
	}

	if a.xs != nil {
		r.GET("/:id/awards", a.listAwards)
		c.HTTP.GET("/participants/:pid/xp", a.getParticipantXP)
	}

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameRankingUpdated, func(ctx context.Context, e event.Event) error {
		a.hub.broadcast(e.(domain.EventRankingUpdated).Snapshot)
		return nil
	})

	if a.redis != nil {
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
	}

	return a
}

// Shutdown reports the gRPC health as not serving and disconnects every stream.
func (a *API) Shutdown() {
	a.health.Shutdown()
	a.hub.close()
}

func (a *API) createSession(c *gin.Context) {
	var req CreateSessionRequest
	if !bind(c, &req) {
		return
	}

	s, err := a.bs.CreateSession(c.Request.Context(), req.toService())
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, toSnapshot(s.Snapshot()))
}

func (a *API) getSnapshot(c *gin.Context) {
	snap, err := a.bs.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toSnapshot(snap))
}

func (a *API) join(c *gin.Context) {
	var req NewParticipant
	if !bind(c, &req) {
		return
	}

	p, err := a.bs.Join(c.Request.Context(), battle.JoinRequest{
		SessionID:      c.Param("id"),
		NewParticipant: battle.NewParticipant(req),
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, toParticipant(p))
}

func (a *API) start(c *gin.Context) {
	snap, err := a.bs.Start(c.Request.Context(), battle.StartRequest{SessionID: c.Param("id")})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toSnapshot(snap))
}

func (a *API) applyProgress(c *gin.Context) {
	var req ApplyProgressRequest
	if !bind(c, &req) {
		return
	}

	res, err := a.bs.ApplyProgress(c.Request.Context(), battle.ApplyProgressRequest{
		SessionID:     c.Param("id"),
		ParticipantID: c.Param("pid"),
		Progress:      req.Progress,
		Verdict:       domain.VerdictSummary{Passed: req.Passed, Total: req.Total},
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toProgressResponse(res))
}

func (a *API) submit(c *gin.Context) {
	var req SubmitRequest
	if !bind(c, &req) {
		return
	}

	res, err := a.bs.Submit(c.Request.Context(), battle.SubmitRequest{
		SessionID:     c.Param("id"),
		ParticipantID: c.Param("pid"),
		Verdicts:      req.toVerdicts(),
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toProgressResponse(res.ProgressResult))
}

func (a *API) tick(c *gin.Context) {
	var req TickRequest
	if !bind(c, &req) {
		return
	}

	res, err := a.bs.Tick(c.Request.Context(), battle.TickRequest{
		SessionID:    c.Param("id"),
		DeltaSeconds: req.DeltaSeconds,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, TickResponse{
		ElapsedSeconds:   res.ElapsedSeconds,
		RemainingSeconds: res.RemainingSeconds,
		Status:           string(res.Status),
	})
}

func (a *API) end(c *gin.Context) {
	snap, err := a.bs.End(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toSnapshot(snap))
}

func (a *API) settle(c *gin.Context) {
	st, err := a.bs.Settle(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toSettlement(st))
}

func (a *API) replaySettlement(c *gin.Context) {
	st, err := a.bs.ReplaySettlement(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toSettlement(st))
}

func (a *API) getLeaderboard(c *gin.Context) {
	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		SessionID: c.Param("id"),
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toLeaderboard(*l))
}

func (a *API) listAwards(c *gin.Context) {
	awards, err := a.xs.ListAwards(c.Request.Context(), ledger.ListAwardsRequest{SessionID: c.Param("id")})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"awards": toAwards(awards)})
}

func (a *API) getParticipantXP(c *gin.Context) {
	pid := c.Param("pid")
	res, err := a.xs.TotalXP(c.Request.Context(), ledger.TotalXPRequest{ParticipantID: pid})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toParticipantXP(pid, res))
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request body: %v", err)))
		return false
	}

	return true
}

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c, "api: request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e})
}
