package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/grading"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/session"
)

// failure is the HTTP status, code and optional detail for a domain error.
type failure struct {
	status int
	code   response.ErrCode
	detail string
}

// classify maps service and session errors to API responses.
func classify(err error) failure {
	var denied *proctor.CapabilityDeniedError
	var submitErr *session.SubmissionError
	var loadErr *session.LoadError

	switch {
	case errors.Is(err, service.ErrNoActiveSession), errors.Is(err, session.ErrDisposed):
		return failure{status: http.StatusNotFound, code: response.ErrNoActiveSession}
	case errors.Is(err, service.ErrTestNotFound), errors.Is(err, service.ErrAttemptNotFound):
		return failure{status: http.StatusNotFound, code: response.ErrNotFound}
	case errors.Is(err, service.ErrAttemptsExhausted):
		return failure{status: http.StatusConflict, code: response.ErrAttemptsExhausted}
	case errors.Is(err, session.ErrNotAvailable):
		return failure{status: http.StatusForbidden, code: response.ErrTestNotAvailable}
	case errors.Is(err, session.ErrRoleCannotTake):
		return failure{status: http.StatusForbidden, code: response.ErrStudentAccessOnly}
	case errors.Is(err, service.ErrNotYourAttempt):
		return failure{status: http.StatusForbidden, code: response.ErrForbidden}
	case errors.Is(err, service.ErrResultsPending), errors.Is(err, session.ErrSubmitInFlight):
		return failure{status: http.StatusConflict, code: response.ErrSubmissionPending}
	case errors.Is(err, session.ErrGateNotReady):
		return failure{status: http.StatusConflict, code: response.ErrProctorNotReady}
	case errors.Is(err, session.ErrInvalidState):
		return failure{status: http.StatusConflict, code: response.ErrInvalidSessionState}
	case errors.Is(err, session.ErrQuestionMismatch):
		return failure{status: http.StatusConflict, code: response.ErrQuestionMismatch}
	case errors.Is(err, session.ErrNotMatching),
		errors.Is(err, session.ErrSlotOutOfRange),
		errors.Is(err, session.ErrInvalidFlag),
		errors.Is(err, grading.ErrPointsExceeded):
		return failure{status: http.StatusBadRequest, code: response.ErrValidation, detail: err.Error()}
	case errors.Is(err, grading.ErrAnswerNotFound):
		return failure{status: http.StatusNotFound, code: response.ErrNotFound, detail: err.Error()}
	case errors.As(err, &denied):
		return failure{status: http.StatusUnprocessableEntity, code: response.ErrCapabilityDenied, detail: denied.Error()}
	case errors.As(err, &submitErr):
		return failure{status: http.StatusBadGateway, code: response.ErrSubmissionFailed}
	case errors.As(err, &loadErr):
		return failure{status: http.StatusBadGateway, code: response.ErrTestLoadFailed}
	default:
		return failure{status: http.StatusInternalServerError, code: response.ErrInternal}
	}
}

// failErr writes the response for err, logging anything unexpected.
func failErr(c *gin.Context, log zerolog.Logger, err error) {
	f := classify(err)
	if f.status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	if f.detail != "" {
		response.FailWithDetail(c, f.status, f.code, f.detail)
		return
	}
	response.Fail(c, f.status, f.code)
}

// uuidParam parses a path parameter, answering 400 on failure.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// pageParams reads ?page and ?per_page with defaults of 1 and 20.
func pageParams(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage
}

// decodeAnswer reads a JSON string or string array into an Answer.
func decodeAnswer(raw []byte) (model.Answer, error) {
	var a model.Answer
	if len(raw) == 0 {
		return a, errors.New("answer is required")
	}
	if err := a.UnmarshalJSON(raw); err != nil {
		return a, err
	}
	return a, nil
}
