package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/session"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live session over a WebSocket.
type WSHandler struct {
	sessionService *service.SessionService
	hub            *ws.Hub
	submitTimeout  time.Duration
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, hub *ws.Hub, submitTimeout time.Duration, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		hub:            hub,
		submitTimeout:  submitTimeout,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/tests/:test_id/stream?token=
// Carries answer edits, navigation, flags and submission from the client,
// and state, timer ticks and results from the server.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	testID, ok := uuidParam(c, "test_id")
	if !ok {
		return
	}

	// The session must exist before upgrading so the client gets a plain
	// HTTP error it can act on.
	ctrl, err := h.sessionService.Get(claims, testID)
	if err != nil {
		failErr(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Str("attempt_id", ctrl.AttemptID().String()).
		Logger()

	client := ws.NewClient(conn, ctrl.AttemptID(), wsLog)
	h.hub.Register(client)
	defer h.hub.Unregister(client)
	go client.WritePump()

	view := viewOf(ctrl)
	client.Send(ws.EventState, view.Session)
	if view.Question != nil {
		client.Send(ws.EventQuestion, view.Question)
	}
	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestPayload
		if err := client.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		h.dispatch(client, ctrl, &msg, wsLog)
	}
}

func (h *WSHandler) dispatch(client *ws.Client, ctrl *session.Controller, msg *ws.RequestPayload, log zerolog.Logger) {
	var err error
	switch msg.Action {
	case ws.ActionPing:
		client.Send(ws.EventPong, nil)
		return

	case ws.ActionAutosave:
		value, derr := decodeAnswer(msg.Answer)
		if derr != nil {
			client.SendError(string(response.ErrInvalidPayload), derr.Error())
			return
		}
		if msg.QuestionID != nil {
			err = ctrl.SetAnswerIfCurrent(*msg.QuestionID, value)
		} else {
			err = ctrl.SetAnswer(value)
		}

	case ws.ActionMatch:
		if msg.Slot == nil {
			client.SendError(string(response.ErrValidation), "slot is required")
			return
		}
		err = ctrl.SetMatch(*msg.Slot, msg.Value)

	case ws.ActionNavigate:
		switch msg.Direction {
		case "next", "prev", "jump":
			_, err = navigate(ctrl, msg.Direction, msg.Index)
		default:
			client.SendError(string(response.ErrValidation), "direction must be next, prev or jump")
			return
		}
		if err == nil {
			client.Send(ws.EventQuestion, ctrl.CurrentView())
		}

	case ws.ActionFlag:
		_, err = ctrl.RecordFlag(msg.Type, msg.Evidence)

	case ws.ActionSubmit:
		ctx, cancel := context.WithTimeout(context.Background(), h.submitTimeout)
		_, err = ctrl.Submit(ctx)
		cancel()

	default:
		log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		client.SendError(string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		return
	}

	if err != nil {
		f := classify(err)
		if f.status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("action", string(msg.Action)).Msg("Action failed")
		}
		client.SendError(string(f.code), err.Error())
	}
}
