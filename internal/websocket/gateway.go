package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/docuprompt/api/internal/metrics"
	"github.com/docuprompt/api/internal/model"
	"github.com/docuprompt/api/internal/service"
)

// Conn is the part of a websocket connection the gateway uses
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// TaskManager is the task lifecycle as seen by a session
type TaskManager interface {
	Submit(ctx context.Context, in service.SubmitInput) (*model.Task, error)
	Stop(ctx context.Context, sessionID, id string) error
	Retry(ctx context.Context, sessionID, id string) (*model.Task, error)
	ReleaseSession(sessionID string)
}

// RenderManager is the render lifecycle as seen by a session
type RenderManager interface {
	GenerateFile(ctx context.Context, sessionID, taskID, content, format string) (*model.RenderRequest, error)
	ReleaseSession(sessionID string)
}

// Gateway maps session commands onto the lifecycle managers
type Gateway struct {
	hub          *Hub
	tasks        TaskManager
	renders      RenderManager
	validator    *validator.Validate
	pingInterval time.Duration
	log          *slog.Logger
}

func NewGateway(hub *Hub, tasks TaskManager, renders RenderManager, v *validator.Validate, log *slog.Logger) *Gateway {
	return &Gateway{
		hub:          hub,
		tasks:        tasks,
		renders:      renders,
		validator:    v,
		pingInterval: 30 * time.Second,
		log:          log.With("component", "gateway"),
	}
}

// HandleConnection serves one session until the client goes away. In-flight
// jobs of the session are not cancelled; their events are dropped.
func (g *Gateway) HandleConnection(c Conn) {
	s := &session{
		id:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
	}
	if !g.hub.add(s) {
		c.Close()
		return
	}
	metrics.ActiveSessions.Inc()
	log := g.log.With("session_id", s.id)
	log.Info("session connected")

	ctx, cancel := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go g.writeLoop(c, s, writerDone)

	defer func() {
		cancel()
		g.hub.remove(s)
		<-writerDone
		g.tasks.ReleaseSession(s.id)
		g.renders.ReleaseSession(s.id)
		metrics.ActiveSessions.Dec()
		log.Info("session disconnected")
	}()

	g.hub.Emit(s.id, model.WSConnectedEvent{Type: model.WSEventConnected, SessionID: s.id})

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("websocket read failed", "error", err)
			}
			return
		}
		g.dispatch(ctx, s.id, message)
	}
}

func (g *Gateway) writeLoop(c Conn, s *session, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-s.send:
			if !ok {
				c.WriteMessage(websocket.CloseMessage, []byte{})
				// unblocks the reader when the hub dropped the session
				c.Close()
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
				metrics.DroppedEvents.WithLabelValues("write_failed").Inc()
				g.log.Warn("dropping event, write failed", "session_id", s.id, "error", fmt.Errorf("%w: %v", model.ErrTransport, err))
				c.Close()
				drain(s.send)
				return
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				drain(s.send)
				return
			}
		}
	}
}

// drain consumes sends until the hub closes the channel
func drain(ch <-chan []byte) {
	for range ch {
	}
}

func (g *Gateway) dispatch(ctx context.Context, sessionID string, data []byte) {
	var msg model.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		g.reject(sessionID, "", "", fmt.Errorf("%w: message is not valid JSON", model.ErrValidation), nil)
		return
	}

	switch msg.Type {
	case model.WSCommandSubmit:
		g.handleSubmit(ctx, sessionID, data)
	case model.WSCommandStop:
		g.handleStop(ctx, sessionID, data)
	case model.WSCommandRetry:
		g.handleRetry(ctx, sessionID, data)
	case model.WSCommandGenerateFile:
		g.handleGenerateFile(ctx, sessionID, data)
	case model.WSCommandPing:
		g.hub.Emit(sessionID, model.WSMessage{Type: model.WSEventPong})
	default:
		g.reject(sessionID, msg.Type, "", fmt.Errorf("%w: unknown message type %q", model.ErrValidation, msg.Type), nil)
	}
}

// decode unmarshals and validates a command, rejecting it on failure
func (g *Gateway) decode(sessionID, command string, data []byte, cmd any) bool {
	if err := json.Unmarshal(data, cmd); err != nil {
		g.reject(sessionID, command, "", fmt.Errorf("%w: invalid %s payload", model.ErrValidation, command), nil)
		return false
	}
	if err := g.validator.Struct(cmd); err != nil {
		g.reject(sessionID, command, "", fmt.Errorf("%w: validation failed", model.ErrValidation), formatValidationErrors(err))
		return false
	}
	return true
}

func (g *Gateway) handleSubmit(ctx context.Context, sessionID string, data []byte) {
	var cmd model.SubmitCommand
	if !g.decode(sessionID, model.WSCommandSubmit, data, &cmd) {
		return
	}

	attachments := make([]model.Attachment, 0, len(cmd.Files))
	for _, f := range cmd.Files {
		attachments = append(attachments, model.NewAttachment(f.Name, f.Data))
	}

	_, err := g.tasks.Submit(ctx, service.SubmitInput{
		ID:          cmd.ID,
		Prompt:      cmd.Prompt,
		Attachments: attachments,
		SessionID:   sessionID,
	})
	if err != nil {
		g.reject(sessionID, model.WSCommandSubmit, cmd.ID, err, nil)
	}
}

func (g *Gateway) handleStop(ctx context.Context, sessionID string, data []byte) {
	var cmd model.TaskCommand
	if !g.decode(sessionID, model.WSCommandStop, data, &cmd) {
		return
	}
	if err := g.tasks.Stop(ctx, sessionID, cmd.TaskID); err != nil {
		g.reject(sessionID, model.WSCommandStop, cmd.TaskID, err, nil)
	}
}

func (g *Gateway) handleRetry(ctx context.Context, sessionID string, data []byte) {
	var cmd model.TaskCommand
	if !g.decode(sessionID, model.WSCommandRetry, data, &cmd) {
		return
	}
	if _, err := g.tasks.Retry(ctx, sessionID, cmd.TaskID); err != nil {
		g.reject(sessionID, model.WSCommandRetry, cmd.TaskID, err, nil)
	}
}

func (g *Gateway) handleGenerateFile(ctx context.Context, sessionID string, data []byte) {
	var cmd model.GenerateFileCommand
	if !g.decode(sessionID, model.WSCommandGenerateFile, data, &cmd) {
		return
	}
	if _, err := g.renders.GenerateFile(ctx, sessionID, cmd.TaskID, cmd.Content, cmd.Format); err != nil {
		g.reject(sessionID, model.WSCommandGenerateFile, cmd.TaskID, err, nil)
	}
}

// reject reports a refused command. Only validation and state errors carry
// their message; anything else is reported generically.
func (g *Gateway) reject(sessionID, command, id string, err error, details map[string]string) {
	code := model.ErrorCode(err)
	message := err.Error()
	if code == model.CodeInternal {
		g.log.Error("command failed", "session_id", sessionID, "command", command, "id", id, "error", err)
		message = "The command could not be processed."
	}

	g.hub.Emit(sessionID, model.WSRejectedEvent{
		Type:    model.WSEventRejected,
		Command: command,
		ID:      id,
		Error:   model.WSError{Code: code, Message: message},
		Details: details,
	})
}

func formatValidationErrors(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		out := make(map[string]string)
		for _, e := range validationErrors {
			out[e.Field()] = e.Tag()
		}
		return out
	}
	return nil
}
