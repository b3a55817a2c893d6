package install

import (
	"encoding/json"
	"net/http"
	"strconv"

	"kudos/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func RegisterRoutes(r gin.IRouter, h *Handler) {
	v1 := r.Group("/v1")
	v1.POST("/oauth/states", h.CreateState)
	v1.POST("/oauth/states/:state/verify", h.VerifyState)
	v1.PUT("/installations", h.PutInstallation)
	v1.GET("/installations", h.GetInstallation)
	v1.DELETE("/installations", h.DeleteInstallation)
}

type createStateRequest struct {
	State          string          `json:"state"`
	InstallOptions json.RawMessage `json:"install_options"`
}

func (h *Handler) CreateState(c *gin.Context) {
	var req createStateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errutil.BadRequest("invalid state request", err))
			return
		}
	}

	state, err := h.store.StoreState(c.Request.Context(), req.State, req.InstallOptions)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"state": state})
}

func (h *Handler) VerifyState(c *gin.Context) {
	options, err := h.store.VerifyState(c.Request.Context(), c.Param("state"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"install_options": options})
}

type putInstallationRequest struct {
	Key
	InstallData json.RawMessage `json:"install_data" binding:"required"`
}

func (h *Handler) PutInstallation(c *gin.Context) {
	var req putInstallationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid installation request", err))
		return
	}

	if err := h.store.StoreInstallation(c.Request.Context(), req.Key, req.InstallData); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetInstallation(c *gin.Context) {
	key, err := keyFrom(c)
	if err != nil {
		c.Error(err)
		return
	}

	data, err := h.store.FetchInstallation(c.Request.Context(), key)
	if err != nil {
		c.Error(err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (h *Handler) DeleteInstallation(c *gin.Context) {
	key, err := keyFrom(c)
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.store.DeleteInstallation(c.Request.Context(), key); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func keyFrom(c *gin.Context) (Key, error) {
	key := Key{
		TeamID:       c.Query("team_id"),
		EnterpriseID: c.Query("enterprise_id"),
	}
	if v := c.Query("is_enterprise_install"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Key{}, errutil.BadRequest("invalid is_enterprise_install", err)
		}
		key.IsEnterpriseInstall = b
	}
	return key, key.validate()
}
