package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/render"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/session"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// StudentPortalHandler handles the test-taking endpoints.
type StudentPortalHandler struct {
	sessionService *service.SessionService
	reviewService  *service.ReviewService
	maxUpload      int64
	log            zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(
	sessionService *service.SessionService,
	reviewService *service.ReviewService,
	maxUpload int64,
	log zerolog.Logger,
) *StudentPortalHandler {
	return &StudentPortalHandler{
		sessionService: sessionService,
		reviewService:  reviewService,
		maxUpload:      maxUpload,
		log:            log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// sessionView is the body returned by every session endpoint.
type sessionView struct {
	Session  session.Snapshot  `json:"session"`
	Test     model.TestSummary `json:"test"`
	Question render.View       `json:"question,omitempty"`
}

func viewOf(ctrl *session.Controller) sessionView {
	t := ctrl.Test()
	v := sessionView{Session: ctrl.Snapshot(), Test: t.Summary()}
	if v.Session.State == session.StateActive {
		v.Question = ctrl.CurrentView()
	}
	return v
}

// current resolves the claims, test id and live session of a request. It
// writes the error response and returns false on failure.
func (h *StudentPortalHandler) current(c *gin.Context) (*service.Claims, uuid.UUID, *session.Controller, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, nil, false
	}
	testID, ok := uuidParam(c, "test_id")
	if !ok {
		return nil, uuid.Nil, nil, false
	}
	ctrl, err := h.sessionService.Get(claims, testID)
	if err != nil {
		failErr(c, h.log, err)
		return nil, uuid.Nil, nil, false
	}
	return claims, testID, ctrl, true
}

// StartSession godoc
// POST /api/v1/student/tests/:test_id/session
// Loads the test and opens a session. Idempotent while the session is live.
func (h *StudentPortalHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	testID, ok := uuidParam(c, "test_id")
	if !ok {
		return
	}

	ctrl, err := h.sessionService.Start(c.Request.Context(), claims, testID)
	if err != nil {
		failErr(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, viewOf(ctrl))
}

// GetSession godoc
// GET /api/v1/student/tests/:test_id/session
// Returns the session state and the current question. Used after a reload.
func (h *StudentPortalHandler) GetSession(c *gin.Context) {
	_, _, ctrl, ok := h.current(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, viewOf(ctrl))
}

// AbandonSession godoc
// DELETE /api/v1/student/tests/:test_id/session
func (h *StudentPortalHandler) AbandonSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	testID, ok := uuidParam(c, "test_id")
	if !ok {
		return
	}

	if err := h.sessionService.Abandon(claims, testID); err != nil {
		failErr(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// ReportCapability godoc
// POST /api/v1/student/tests/:test_id/session/proctor/:capability
// Applies the browser's result for a camera or screen-share prompt.
func (h *StudentPortalHandler) ReportCapability(c *gin.Context) {
	claims, testID, _, ok := h.current(c)
	if !ok {
		return
	}

	capability := proctor.Capability(c.Param("capability"))
	if !capability.Valid() {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	var req model.CapabilityReport
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctrl, err := h.sessionService.ReportCapability(c.Request.Context(), claims, testID, capability, req)
	if err != nil {
		failErr(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, viewOf(ctrl))
}

// Begin godoc
// POST /api/v1/student/tests/:test_id/session/begin
// Leaves the proctoring gate and starts the clock.
func (h *StudentPortalHandler) Begin(c *gin.Context) {
	_, _, ctrl, ok := h.current(c)
	if !ok {
		return
	}
	if err := ctrl.Begin(); err != nil {
		failErr(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, viewOf(ctrl))
}

// Navigate godoc
// POST /api/v1/student/tests/:test_id/session/navigate
func (h *StudentPortalHandler) Navigate(c *gin.Context) {
	_, _, ctrl, ok := h.current(c)
	if !ok {
		return
	}

	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if _, err := navigate(ctrl, req.Action, req.Index); err != nil {
		failErr(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, viewOf(ctrl))
}

// navigate applies a next/prev/jump action and reports whether the cursor moved.
func navigate(ctrl *session.Controller, action string, index int) (bool, error) {
	switch action {
	case "next":
		return ctrl.Next()
	case "prev":
		return ctrl.Prev()
	default:
		return ctrl.Jump(index)
	}
}

// SaveAnswer godoc
// PUT /api/v1/student/tests/:test_id/session/answer
// Replaces the answer of the current question.
func (h *StudentPortalHandler) SaveAnswer(c *gin.Context) {
	_, _, ctrl, ok := h.current(c)
	if !ok {
		return
	}

	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	var err error
	if req.QuestionID != nil {
		err = ctrl.SetAnswerIfCurrent(*req.QuestionID, req.Answer)
	} else {
		err = ctrl.SetAnswer(req.Answer)
	}
	if err != nil {
		failErr(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, viewOf(ctrl))
}

// SaveMatch godoc
// PUT /api/v1/student/tests/:test_id/session/answer/match
// Sets one dropdown of the current matching question.
func (h *StudentPortalHandler) SaveMatch(c *gin.Context) {
	_, _, ctrl, ok := h.current(c)
	if !ok {
		return
	}

	var req model.MatchRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := ctrl.SetMatch(*req.Slot, req.Value); err != nil {
		failErr(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, viewOf(ctrl))
}

// RecordFlag godoc
// POST /api/v1/student/tests/:test_id/session/flags
func (h *StudentPortalHandler) RecordFlag(c *gin.Context) {
	_, _, ctrl, ok := h.current(c)
	if !ok {
		return
	}

	var req model.FlagRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	flag, err := ctrl.RecordFlag(req.Type, req.Evidence)
	if err != nil {
		failErr(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"flag": flag})
}

// UploadEvidence godoc
// POST /api/v1/student/tests/:test_id/session/flags/evidence
// Multipart form: type, file. Stores the capture and records a flag whose
// evidence is the stored object key.
func (h *StudentPortalHandler) UploadEvidence(c *gin.Context) {
	claims, testID, _, ok := h.current(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1<<20)
	flagType := model.FlagType(c.PostForm("type"))
	if !flagType.Valid() {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"type": "must be a known proctor flag type",
		})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	if header.Size > h.maxUpload {
		response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	flag, err := h.sessionService.UploadEvidence(c.Request.Context(), claims, testID, flagType, header.Filename, file, header.Size, contentType)
	if err != nil {
		failErr(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"flag": flag})
}

// Submit godoc
// POST /api/v1/student/tests/:test_id/session/submit
// Finalizes the attempt. Safe to retry after a failure.
func (h *StudentPortalHandler) Submit(c *gin.Context) {
	claims, _, ctrl, ok := h.current(c)
	if !ok {
		return
	}

	attempt, err := ctrl.Submit(c.Request.Context())
	if err != nil {
		failErr(c, h.log, err)
		return
	}

	result, err := h.reviewService.Results(c.Request.Context(), claims, attempt.ID)
	if err != nil {
		failErr(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt_id": attempt.ID, "result": result})
}

// GetResults godoc
// GET /api/v1/student/attempts/:attempt_id/results
func (h *StudentPortalHandler) GetResults(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := uuidParam(c, "attempt_id")
	if !ok {
		return
	}

	result, err := h.reviewService.Results(c.Request.Context(), claims, attemptID)
	if err != nil {
		failErr(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}
