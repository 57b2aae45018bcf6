package review

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/service/review"
	"github.com/jwalitptl/clinic-api/pkg/httputil"
)

type Handler struct {
	service *review.Service
}

func NewHandler(service *review.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	reviews := r.Group("/appointments/:id/review")
	{
		reviews.POST("", h.AddReview)
		reviews.PUT("", h.UpdateReview)
		reviews.DELETE("", h.RemoveReview)
	}
}

// request resolves the caller, the appointment id and, when withBody is
// set, the review payload. It answers the request itself on failure.
func request(c *gin.Context, withBody bool) (model.Actor, model.ReviewInput, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		httputil.RespondWithStatus(c, http.StatusUnauthorized, "authentication required")
		return model.Actor{}, model.ReviewInput{}, false
	}
	if !withBody {
		return actor, model.ReviewInput{}, true
	}
	var req model.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return model.Actor{}, model.ReviewInput{}, false
	}
	return actor, model.ReviewInput{Rating: req.Rating, Comment: req.Comment}, true
}

func (h *Handler) AddReview(c *gin.Context) {
	id, ok := httputil.ParamUUID(c, "id")
	if !ok {
		return
	}
	actor, in, ok := request(c, true)
	if !ok {
		return
	}

	added, err := h.service.AddReview(c.Request.Context(), actor, id, in)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, added)
}

func (h *Handler) UpdateReview(c *gin.Context) {
	id, ok := httputil.ParamUUID(c, "id")
	if !ok {
		return
	}
	actor, in, ok := request(c, true)
	if !ok {
		return
	}

	updated, err := h.service.UpdateReview(c.Request.Context(), actor, id, in)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, updated)
}

func (h *Handler) RemoveReview(c *gin.Context) {
	id, ok := httputil.ParamUUID(c, "id")
	if !ok {
		return
	}
	actor, _, ok := request(c, false)
	if !ok {
		return
	}

	if _, err := h.service.RemoveReview(c.Request.Context(), actor, id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
