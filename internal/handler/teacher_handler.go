package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/storage"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// TeacherHandler serves test management and review endpoints.
type TeacherHandler struct {
	testService    *service.TestService
	reviewService  *service.ReviewService
	sessionService *service.SessionService
	evidence       *storage.EvidenceStore
	log            zerolog.Logger
}

// NewTeacherHandler creates a new TeacherHandler.
func NewTeacherHandler(
	testService *service.TestService,
	reviewService *service.ReviewService,
	sessionService *service.SessionService,
	evidence *storage.EvidenceStore,
	log zerolog.Logger,
) *TeacherHandler {
	return &TeacherHandler{
		testService:    testService,
		reviewService:  reviewService,
		sessionService: sessionService,
		evidence:       evidence,
		log:            log.With().Str("component", "teacher_handler").Logger(),
	}
}

// ListTests godoc
// GET /api/v1/teacher/tests
func (h *TeacherHandler) ListTests(c *gin.Context) {
	tests, err := h.testService.List(c.Request.Context())
	if err != nil {
		failErr(c, h.log, err)
		return
	}

	out := make([]model.TestSummary, 0, len(tests))
	for i := range tests {
		out = append(out, tests[i].Summary())
	}
	response.Success(c, http.StatusOK, gin.H{"tests": out})
}

// GetTest godoc
// GET /api/v1/teacher/tests/:id
// Returns the full test with questions and answer keys.
func (h *TeacherHandler) GetTest(c *gin.Context) {
	testID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	payload, err := h.testService.Payload(c.Request.Context(), testID)
	if err != nil {
		failErr(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, payload)
}

// ListAttempts godoc
// GET /api/v1/teacher/tests/:id/attempts?page=&per_page=
func (h *TeacherHandler) ListAttempts(c *gin.Context) {
	testID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	page, perPage := pageParams(c)

	items, total, err := h.reviewService.ListAttempts(c.Request.Context(), testID, page, perPage)
	if err != nil {
		failErr(c, h.log, err)
		return
	}
	if items == nil {
		items = []model.AttemptListItem{}
	}
	response.SuccessWithPagination(c, http.StatusOK, items, response.NewPagination(page, perPage, total))
}

// LiveSessions godoc
// GET /api/v1/teacher/tests/:id/live
// Returns the sessions of this test held by this server.
func (h *TeacherHandler) LiveSessions(c *gin.Context) {
	testID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, gin.H{"sessions": h.sessionService.LiveSnapshots(testID)})
}

// GetResults godoc
// GET /api/v1/teacher/attempts/:id/results
func (h *TeacherHandler) GetResults(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := uuidParam(c, "id")
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

// GradeAnswer godoc
// POST /api/v1/teacher/attempts/:id/answers/:question_id/grade
// Stores a manual grade and returns the recomputed result.
func (h *TeacherHandler) GradeAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	questionID, ok := uuidParam(c, "question_id")
	if !ok {
		return
	}

	var req model.GradeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.reviewService.Grade(c.Request.Context(), claims, attemptID, questionID, req)
	if err != nil {
		failErr(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// DownloadEvidence godoc
// GET /api/v1/teacher/evidence?key=
// Streams a proctoring capture from object storage.
func (h *TeacherHandler) DownloadEvidence(c *gin.Context) {
	key := c.Query("key")
	if !storage.ValidKey(key) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	obj, info, err := h.evidence.Get(c.Request.Context(), key)
	if err != nil {
		var minioErr minio.ErrorResponse
		if errors.As(err, &minioErr) && minioErr.Code == "NoSuchKey" {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Error().Err(err).Str("key", key).Msg("Evidence download failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	defer obj.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", path.Base(key)))
	c.DataFromReader(http.StatusOK, info.Size, contentType, io.Reader(obj), nil)
}
