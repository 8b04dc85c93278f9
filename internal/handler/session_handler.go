package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/educaition/station/internal/model"
	"github.com/educaition/station/internal/response"
	"github.com/educaition/station/internal/session"
	"github.com/educaition/station/internal/settings"
	"github.com/educaition/station/internal/validator"
)

// SessionHandler exposes the participant session lifecycle over the
// station's local HTTP API. One engine exists per (test, room) pair; the
// UI drives it with start / register / answers / submit.
type SessionHandler struct {
	mgr      *session.Manager
	settings *settings.Store
	log      zerolog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(mgr *session.Manager, st *settings.Store, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		mgr:      mgr,
		settings: st,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// ListTests returns the test definitions this station can run.
func (h *SessionHandler) ListTests(c *gin.Context) {
	response.Success(c, http.StatusOK, model.Tests())
}

// Start runs the loading stage for the pair and returns the resulting
// state: registration for a fresh device, test for a restored session,
// result when the device already completed the attempt.
func (h *SessionHandler) Start(c *gin.Context) {
	eng, err := h.mgr.Get(c.Param("test"), roomParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	view, err := eng.Start(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// State returns the current session snapshot without side effects.
func (h *SessionHandler) State(c *gin.Context) {
	eng, err := h.mgr.Lookup(c.Param("test"), roomParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, eng.View())
}

// Register creates the participant for a fresh attempt.
func (h *SessionHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	eng, err := h.mgr.Get(c.Param("test"), roomParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	view, err := eng.Register(c.Request.Context(), model.RegistrationFields{
		Name:       req.Name,
		ExternalID: req.ExternalID,
		Extra:      req.Extra,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, view)
}

// Answer records one answer and advances the position.
func (h *SessionHandler) Answer(c *gin.Context) {
	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	eng, err := h.mgr.Lookup(c.Param("test"), roomParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	view, err := eng.RecordAnswer(c.Request.Context(), req.Position, *req.Value)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// Submit sends the completed answer sheet to the backend.
func (h *SessionHandler) Submit(c *gin.Context) {
	eng, err := h.mgr.Lookup(c.Param("test"), roomParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	view, err := eng.Submit(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// Override wipes the local completion marks and progress for a supervised
// retake. Requires the proctor PIN.
func (h *SessionHandler) Override(c *gin.Context) {
	var req model.OverrideRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	switch err := h.settings.VerifyPIN(c.Request.Context(), req.PIN); {
	case errors.Is(err, settings.ErrPINNotSet):
		response.Fail(c, http.StatusConflict, response.ErrPINNotSet)
		return
	case errors.Is(err, settings.ErrPINMismatch):
		h.log.Warn().Str("ip", c.ClientIP()).Msg("Override rejected, wrong PIN")
		response.Fail(c, http.StatusForbidden, response.ErrInvalidPIN)
		return
	case err != nil:
		h.log.Error().Err(err).Msg("PIN verification failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if err := h.mgr.Reset(c.Request.Context(), c.Param("test"), roomParam(c)); err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info().Str("test", c.Param("test")).Str("room", roomParam(c)).Msg("Proctor override applied")
	response.Success(c, http.StatusOK, gin.H{"reset": true})
}

// roomParam maps the sentinel "global" path segment to the empty room id
// used for tests that run without a room scope.
func roomParam(c *gin.Context) string {
	room := c.Param("room")
	if room == model.GlobalRoomKey {
		return ""
	}
	return room
}

// fail maps engine errors onto the response envelope.
func (h *SessionHandler) fail(c *gin.Context, err error) {
	var (
		ve *session.ValidationError
		re *session.RoomError
		ge *session.RegisterError
		se *session.StepSaveError
		su *session.SubmitError
	)
	switch {
	case errors.Is(err, session.ErrUnknownTest):
		response.Fail(c, http.StatusNotFound, response.ErrUnknownTest)
	case errors.Is(err, session.ErrNoSession):
		response.Fail(c, http.StatusNotFound, response.ErrNoSession)
	case errors.Is(err, session.ErrAlreadyCompleted):
		response.Fail(c, http.StatusConflict, response.ErrAlreadyCompleted)
	case errors.Is(err, session.ErrWrongStage):
		response.Fail(c, http.StatusConflict, response.ErrWrongStage)
	case errors.As(err, &ve):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"detail": ve.Reason})
	case errors.As(err, &re):
		response.Fail(c, http.StatusBadGateway, response.ErrRoomUnavailable)
	case errors.As(err, &ge):
		response.Fail(c, http.StatusBadGateway, response.ErrRegistrationFailed)
	case errors.As(err, &se):
		response.Fail(c, http.StatusBadGateway, response.ErrStepSaveFailed)
	case errors.As(err, &su):
		response.Fail(c, http.StatusBadGateway, response.ErrSubmissionFailed)
	default:
		h.log.Error().Err(err).Msg("Unhandled session error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
