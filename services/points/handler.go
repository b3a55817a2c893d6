package points

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"kudos/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r gin.IRouter, h *Handler) {
	v1 := r.Group("/v1")
	v1.POST("/awards", h.Award)
	v1.POST("/awards/give", h.Give)

	ws := v1.Group("/workspaces/:workspace_id")
	ws.GET("/points", h.Points)
	ws.GET("/points/:user_id", h.Points)
	ws.GET("/leaderboard", h.Leaderboard)
	ws.GET("/history", h.History)
	ws.GET("/history/:user_id", h.History)
	ws.GET("/stats", h.Stats)
}

func (h *Handler) Award(c *gin.Context) {
	var req AwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid award request", err))
		return
	}

	res, err := h.svc.Award(c.Request.Context(), req)
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Give(c *gin.Context) {
	var req GiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid give request", err))
		return
	}

	res, err := h.svc.Give(c.Request.Context(), req)
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Points(c *gin.Context) {
	res, err := h.svc.Points(c.Request.Context(), queryFrom(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Leaderboard(c *gin.Context) {
	period, err := ParsePeriod(c.Query("period"))
	if err != nil {
		c.Error(err)
		return
	}

	q := queryFrom(c)
	q.Period = period
	res, err := h.svc.Leaderboard(c.Request.Context(), q)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) History(c *gin.Context) {
	res, err := h.svc.History(c.Request.Context(), queryFrom(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Stats(c *gin.Context) {
	res, err := h.svc.Stats(c.Request.Context(), queryFrom(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// abort sets Retry-After on rate-limited awards before handing the error to
// the error middleware.
func (h *Handler) abort(c *gin.Context, err error) {
	var rej *Rejection
	if errors.As(err, &rej) && rej.Kind == RejectRateLimited {
		c.Header("Retry-After", strconv.FormatInt(int64(rej.RetryAfter/time.Second), 10))
	}
	c.Error(err)
}

func queryFrom(c *gin.Context) Query {
	return Query{
		WorkspaceID: c.Param("workspace_id"),
		ChannelID:   c.Query("channel_id"),
		RequesterID: c.Query("requester_id"),
		UserID:      c.Param("user_id"),
	}
}
