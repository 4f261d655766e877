package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Mohammed-Mafaz/Parking-System/internal/config"
	"github.com/Mohammed-Mafaz/Parking-System/internal/domain/parking"
	"github.com/Mohammed-Mafaz/Parking-System/internal/payment"
	"github.com/Mohammed-Mafaz/Parking-System/internal/pipeline"
	"github.com/Mohammed-Mafaz/Parking-System/internal/repository"
	"github.com/Mohammed-Mafaz/Parking-System/internal/service"
	"github.com/Mohammed-Mafaz/Parking-System/internal/slots"
)

type Handler struct {
	engine     *pipeline.Engine
	sessions   *service.SessionService
	reconciler *payment.Reconciler
	tracker    *slots.Tracker
	config     *config.Config
	log        zerolog.Logger
}

func NewHandler(
	engine *pipeline.Engine,
	sessions *service.SessionService,
	reconciler *payment.Reconciler,
	tracker *slots.Tracker,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		engine:     engine,
		sessions:   sessions,
		reconciler: reconciler,
		tracker:    tracker,
		config:     cfg,
		log:        log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/detections", h.createDetection)
		public.POST("/payments/callback", h.paymentCallback)
		public.GET("/sessions/open", h.getOpenSession)
		public.GET("/sessions", h.listSessions)
		public.GET("/slots", h.getSlotOccupancy)
	}

	// Operator endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/payments/:session_id/cash", h.confirmCash)
		protected.GET("/payments/queue", h.paymentQueue)
		protected.GET("/events", h.listEvents)
	}
}

type detectionPayload struct {
	CameraID   string         `json:"camera_id"`
	Role       string         `json:"role"`
	Plate      string         `json:"plate"`
	Confidence float64        `json:"confidence"`
	EventTime  time.Time      `json:"event_time"`
	Location   *parking.Point `json:"location,omitempty"`
}

func (h *Handler) createDetection(c *gin.Context) {
	var payload detectionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if payload.CameraID == "" {
		c.JSON(http.StatusBadRequest, errorResponse("camera_id is required"))
		return
	}

	role := parking.CameraRole(payload.Role)
	// With a camera registry configured, the registry is authoritative for
	// the role and unregistered cameras are rejected.
	if h.config != nil && len(h.config.Cameras) > 0 {
		cam := h.config.Camera(payload.CameraID)
		if cam == nil {
			c.JSON(http.StatusBadRequest, errorResponse("unknown camera_id"))
			return
		}
		role = parking.CameraRole(cam.Role)
	}
	switch role {
	case parking.RoleEntrance, parking.RoleExit, parking.RoleSection:
	default:
		c.JSON(http.StatusBadRequest, errorResponse("role must be entrance, exit or section"))
		return
	}

	if payload.EventTime.IsZero() {
		payload.EventTime = time.Now()
	}

	det := parking.Detection{
		Plate:      payload.Plate,
		Confidence: payload.Confidence,
		Location:   payload.Location,
	}
	plateText, confirmed, err := h.engine.OnDetection(c.Request.Context(), payload.CameraID, role, det, payload.EventTime)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to process detection")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"confirmed": confirmed,
		"plate":     plateText,
	})
}

type callbackPayload struct {
	LinkID  string `json:"link_id"`
	Status  string `json:"status"`
	Payload *struct {
		PaymentLink struct {
			Entity struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"entity"`
		} `json:"payment_link"`
	} `json:"payload,omitempty"`
}

// paymentCallback accepts both the flat {link_id, status} shape and the
// provider's nested webhook envelope.
func (h *Handler) paymentCallback(c *gin.Context) {
	var payload callbackPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	linkID, status := payload.LinkID, payload.Status
	if linkID == "" && payload.Payload != nil {
		linkID = payload.Payload.PaymentLink.Entity.ID
		status = payload.Payload.PaymentLink.Entity.Status
	}

	err := h.reconciler.ApplyCallback(c.Request.Context(), linkID, payment.LinkStatus(status))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		case errors.Is(err, payment.ErrUnknownLink):
			c.JSON(http.StatusNotFound, errorResponse(err.Error()))
		default:
			h.log.Error().Err(err).Msg("failed to apply payment callback")
			c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) confirmCash(c *gin.Context) {
	sessionID := c.Param("session_id")

	attempt, err := h.reconciler.ConfirmCash(c.Request.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		case errors.Is(err, payment.ErrNoAttempt):
			c.JSON(http.StatusNotFound, errorResponse(err.Error()))
		case errors.Is(err, payment.ErrTerminal):
			c.JSON(http.StatusConflict, gin.H{
				"error": err.Error(),
				"data":  attempt,
			})
		default:
			h.log.Error().Err(err).Msg("failed to confirm cash payment")
			c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		}
		return
	}

	c.JSON(http.StatusOK, successResponse(attempt))
}

func (h *Handler) paymentQueue(c *gin.Context) {
	attempts, err := h.reconciler.PendingQueue(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list payment queue")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	c.JSON(http.StatusOK, successResponse(attempts))
}

func (h *Handler) getOpenSession(c *gin.Context) {
	plateQuery := strings.TrimSpace(c.Query("plate"))
	if plateQuery == "" {
		c.JSON(http.StatusBadRequest, errorResponse("plate parameter is required"))
		return
	}

	session, err := h.sessions.GetOpenSession(c.Request.Context(), plateQuery)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(session))
}

func (h *Handler) listSessions(c *gin.Context) {
	var f repository.SessionFilter

	if plateText := strings.TrimSpace(c.Query("plate")); plateText != "" {
		f.Plate = &plateText
	}
	if s := strings.TrimSpace(c.Query("status")); s != "" {
		status := parking.SessionStatus(s)
		f.Status = &status
	}
	if from := strings.TrimSpace(c.Query("from")); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid from time format"))
			return
		}
		f.From = &t
	}
	if to := strings.TrimSpace(c.Query("to")); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid to time format"))
			return
		}
		f.To = &t
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			f.Limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			f.Offset = parsed
		}
	}

	sessions, err := h.sessions.ListSessions(c.Request.Context(), f)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(sessions))
}

func (h *Handler) getSlotOccupancy(c *gin.Context) {
	if h.tracker == nil {
		c.JSON(http.StatusOK, successResponse(map[string]string{}))
		return
	}
	c.JSON(http.StatusOK, successResponse(h.tracker.Occupancy()))
}

func (h *Handler) listEvents(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events, err := h.sessions.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(events))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrAlreadyParked), errors.Is(err, service.ErrNoOpenSession):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
