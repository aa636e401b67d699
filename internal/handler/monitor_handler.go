package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const keepAliveInterval = 30 * time.Second

// snapshotAttempts caps the attempts listed in the first monitor event.
const snapshotAttempts = 500

// MonitorHandler streams live test activity to teachers.
type MonitorHandler struct {
	testService    *service.TestService
	reviewService  *service.ReviewService
	sessionService *service.SessionService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(
	testService *service.TestService,
	reviewService *service.ReviewService,
	sessionService *service.SessionService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		testService:    testService,
		reviewService:  reviewService,
		sessionService: sessionService,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorTestSSE godoc
// GET /api/v1/teacher/tests/:id/monitor
// Sends a snapshot, then forwards every monitor event published for the test
// by any server instance.
func (h *MonitorHandler) MonitorTestSSE(c *gin.Context) {
	testID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	payload, err := h.testService.Payload(reqCtx, testID)
	if err != nil {
		failErr(c, h.log, err)
		return
	}
	attempts, total, err := h.reviewService.ListAttempts(reqCtx, testID, 1, snapshotAttempts)
	if err != nil {
		h.log.Error().Err(err).Msg("List attempts for monitor")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	// Subscribe before the snapshot so nothing published in between is lost.
	pubsub := h.monitorService.Subscribe(reqCtx, testID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message", gin.H{
		"type": "snapshot",
		"data": gin.H{
			"test":           payload.Test.Summary(),
			"total_attempts": total,
			"attempts":       attempts,
			"live":           h.sessionService.LiveSnapshots(testID),
		},
	})
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	h.log.Info().Str("test_id", testID.String()).Msg("Teacher attached to live monitor")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("test_id", testID.String()).Msg("Teacher left live monitor")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Payloads are already JSON; forward without decoding.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-keepAlive.C:
			c.Writer.Write([]byte("data: {\"type\":\"ping\"}\n\n"))
			c.Writer.Flush()
		}
	}
}
