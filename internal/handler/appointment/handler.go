package appointment

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/service/appointment"
	"github.com/jwalitptl/clinic-api/pkg/httputil"
)

type Handler struct {
	service *appointment.Service
}

func NewHandler(service *appointment.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	appointments := r.Group("/appointments")
	{
		appointments.POST("", h.CreateAppointment)
		appointments.GET("", h.ListAppointments)
		appointments.GET("/:id", h.GetAppointment)
		appointments.PATCH("/:id/doctor", h.DoctorUpdateAppointment)
		appointments.PATCH("/:id/patient", h.PatientUpdateAppointment)
		appointments.POST("/:id/cancel", h.CancelAppointment)
		appointments.POST("/:id/complete", h.CompleteAppointment)
		appointments.PUT("/:id/prescriptions", h.UpsertPrescription)
	}
}

func caller(c *gin.Context) (model.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		httputil.RespondWithStatus(c, http.StatusUnauthorized, "authentication required")
	}
	return actor, ok
}

func (h *Handler) CreateAppointment(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	var req model.CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}

	appt, err := h.service.CreateAppointment(c.Request.Context(), actor, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, appt.View())
}

func (h *Handler) GetAppointment(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamUUID(c, "id")
	if !ok {
		return
	}

	appt, err := h.service.GetAppointment(c.Request.Context(), actor, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, appt.View())
}

func (h *Handler) ListAppointments(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	var query model.ListAppointmentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}

	filters := query.Filters()
	list, err := h.service.ListAppointments(c.Request.Context(), actor, filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	views := make([]model.AppointmentView, 0, len(list))
	for _, a := range list {
		views = append(views, a.View())
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = model.DefaultListLimit
	}
	httputil.RespondWithList(c, views, limit, filters.Offset, len(views))
}

func (h *Handler) DoctorUpdateAppointment(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req model.DoctorUpdateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}
	changes, err := req.Changes()
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	appt, err := h.service.DoctorUpdateAppointment(c.Request.Context(), actor, id, changes)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, appt.View())
}

func (h *Handler) PatientUpdateAppointment(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req model.PatientUpdateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}

	appt, err := h.service.PatientUpdateAppointment(c.Request.Context(), actor, id, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, appt.View())
}

func (h *Handler) CancelAppointment(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req model.CancelAppointmentRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httputil.RespondWithBindError(c, err)
			return
		}
	}

	appt, err := h.service.CancelAppointment(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, appt.View())
}

func (h *Handler) CompleteAppointment(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req model.CompleteAppointmentRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httputil.RespondWithBindError(c, err)
			return
		}
	}

	appt, err := h.service.CompleteAppointment(c.Request.Context(), actor, id, req.Outcome)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, appt.View())
}

type prescriptionResponse struct {
	Appointment model.AppointmentView  `json:"appointment"`
	Changes     model.PrescriptionDiff `json:"changes"`
}

func (h *Handler) UpsertPrescription(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req model.UpsertPrescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindError(c, err)
		return
	}

	appt, diff, err := h.service.UpsertPrescription(c.Request.Context(), actor, id, req.Lines)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, prescriptionResponse{Appointment: appt.View(), Changes: diff})
}
