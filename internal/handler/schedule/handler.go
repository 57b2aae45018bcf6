package schedule

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/service/schedule"
	"github.com/jwalitptl/clinic-api/pkg/httputil"
)

type Handler struct {
	service *schedule.Service
}

func NewHandler(service *schedule.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	doctors := r.Group("/doctors")
	{
		doctors.GET("/:id", h.GetDoctor)
		doctors.GET("/:id/slots", h.AvailableSlots)
		doctors.POST("/:id/schedules", h.AddDoctorSchedule)
		doctors.DELETE("/:id/schedules/:scheduleId", h.RemoveDoctorSchedule)
	}
}

func (h *Handler) GetDoctor(c *gin.Context) {
	id, ok := httputil.ParamUUID(c, "id")
	if !ok {
		return
	}

	doctor, err := h.service.GetDoctor(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, doctor.View())
}

// AvailableSlots lists the open slots for ?date=YYYY-MM-DD, today by default
func (h *Handler) AvailableSlots(c *gin.Context) {
	id, ok := httputil.ParamUUID(c, "id")
	if !ok {
		return
	}

	date := time.Now().UTC()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httputil.RespondWithStatus(c, http.StatusBadRequest, "date must be formatted as YYYY-MM-DD")
			return
		}
		date = parsed
	}

	slots, err := h.service.AvailableSlots(c.Request.Context(), id, date)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, slots)
}

func (h *Handler) AddDoctorSchedule(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		httputil.RespondWithStatus(c, http.StatusUnauthorized, "authentication required")
		return
	}
	id, ok := httputil.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req model.AddScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}

	block, err := h.service.AddDoctorSchedule(c.Request.Context(), actor, id, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, block)
}

func (h *Handler) RemoveDoctorSchedule(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		httputil.RespondWithStatus(c, http.StatusUnauthorized, "authentication required")
		return
	}
	id, ok := httputil.ParamUUID(c, "id")
	if !ok {
		return
	}
	scheduleID, ok := httputil.ParamUUID(c, "scheduleId")
	if !ok {
		return
	}

	if err := h.service.RemoveDoctorSchedule(c.Request.Context(), actor, id, scheduleID); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
