package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"spotradar/config"
	deliverycontext "spotradar/internal/delivery/context"
	"spotradar/internal/domain/entity"
	domainerrors "spotradar/internal/domain/errors"
	"spotradar/internal/usecase"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/fx"
)

const (
	frameTypeSnapshot = "snapshot"
	frameTypeError    = "error"

	commandViewport = "viewport"
	commandRadius   = "radius"

	defaultStreamBuffer = 4
	writeWait           = 10 * time.Second
	pongWait            = 60 * time.Second
	pingPeriod          = pongWait * 9 / 10
	maxCommandSize      = 4096

	closeReasonSessionClosed = "radar session closed"
)

// SnapshotFrame carries a full render set. It always replaces what the client
// rendered before.
type SnapshotFrame struct {
	Type      string                `json:"type"`
	Seq       uint64                `json:"seq"`
	HandleID  string                `json:"handle_id,omitempty"`
	Condition entity.QueryCondition `json:"condition"`
	Entities  []entity.RenderEntity `json:"entities"`
	Dropped   int                   `json:"dropped,omitempty"`
}

// ErrorFrame reports a provider failure or a rejected command. The client
// keeps its last render set.
type ErrorFrame struct {
	Type    string `json:"type"`
	Seq     uint64 `json:"seq,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// StreamCommand is a client message moving the viewport or changing the radius
type StreamCommand struct {
	Type      string   `json:"type"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	RadiusKm  float64  `json:"radius_km,omitempty"`
}

// StreamHandlerParams holds dependencies for StreamHandler, injected by Fx.
type StreamHandlerParams struct {
	fx.In

	RadarUC usecase.RadarUsecase
	Config  *config.Config
	Logger  *slog.Logger
}

// StreamHandler pushes render sets of a session to websocket clients
type StreamHandler struct {
	radarUC  usecase.RadarUsecase
	logger   *slog.Logger
	buffer   int
	upgrader websocket.Upgrader
}

// NewStreamHandler is the constructor for StreamHandler
func NewStreamHandler(params StreamHandlerParams) *StreamHandler {
	buffer := defaultStreamBuffer
	if params.Config != nil && params.Config.Radar != nil && params.Config.Radar.StreamBuffer > 0 {
		buffer = params.Config.Radar.StreamBuffer
	}

	return &StreamHandler{
		radarUC: params.RadarUC,
		logger:  params.Logger,
		buffer:  buffer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

// Stream upgrades to a websocket, sends the current render set and then every
// update of the session. Commands read from the socket update the condition.
func (h *StreamHandler) Stream(c echo.Context) error {
	sessionID, err := parseSessionID(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	logger := deliverycontext.GetLoggerOrDefault(ctx, h.logger).With(slog.String("session_id", sessionID.String()))

	// Resolve the session before upgrading so unknown ids get a plain 404.
	if _, err := h.radarUC.GetSession(ctx, sessionID); err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Warn("Failed to upgrade radar stream", slog.Any("error", err))

		return nil
	}
	defer conn.Close()

	queue := newFrameQueue(h.buffer)
	sub, err := h.radarUC.Subscribe(ctx, sessionID, func(update entity.RadarUpdate) {
		queue.push(frameFromUpdate(update))
	})
	if err != nil {
		_ = conn.WriteJSON(errorFrame(0, err))

		return nil
	}
	defer sub.Unsubscribe()

	view, err := h.radarUC.GetSession(ctx, sessionID)
	if err != nil {
		_ = conn.WriteJSON(errorFrame(0, err))

		return nil
	}
	queue.push(SnapshotFrame{
		Type:      frameTypeSnapshot,
		Seq:       view.Seq,
		Condition: view.Condition,
		Entities:  nonNil(view.Entities),
	})

	writeCtx, cancel := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		h.writeLoop(writeCtx, conn, queue, sub.Done, logger)
		// Unblocks the reader when the client stopped reading.
		_ = conn.Close()
	}()

	logger.Info("Radar stream connected")
	h.readLoop(writeCtx, conn, queue, sessionID, logger)

	cancel()
	<-writerDone
	logger.Info("Radar stream disconnected")

	return nil
}

func (h *StreamHandler) readLoop(ctx context.Context, conn *websocket.Conn, queue *frameQueue, sessionID uuid.UUID, logger *slog.Logger) {
	conn.SetReadLimit(maxCommandSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd StreamCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Radar stream read failed", slog.Any("error", err))
			}

			return
		}

		if err := h.apply(ctx, sessionID, cmd); err != nil {
			queue.push(errorFrame(0, err))
		}
	}
}

func (h *StreamHandler) apply(ctx context.Context, id uuid.UUID, cmd StreamCommand) error {
	var err error
	switch cmd.Type {
	case commandViewport:
		if cmd.Latitude == nil || cmd.Longitude == nil {
			return domainerrors.ErrValidationFailed.WithDetails("viewport command needs latitude and longitude")
		}
		_, err = h.radarUC.MoveViewport(ctx, id, entity.GeoPoint{Latitude: *cmd.Latitude, Longitude: *cmd.Longitude})
	case commandRadius:
		_, err = h.radarUC.ChangeRadius(ctx, id, cmd.RadiusKm)
	default:
		err = domainerrors.ErrValidationFailed.WithDetails("unknown command " + cmd.Type)
	}

	return err
}

// writeLoop is the only writer of conn. It ends with a close message when the
// client goes away or the session stops.
func (h *StreamHandler) writeLoop(ctx context.Context, conn *websocket.Conn, queue *frameQueue, sessionDone <-chan struct{}, logger *slog.Logger) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var lastSeq uint64
	write := func(frame any) bool {
		// The initial snapshot may race with the first pushed update.
		if snapshot, ok := frame.(SnapshotFrame); ok {
			if snapshot.Seq != 0 && snapshot.Seq <= lastSeq {
				return true
			}
			lastSeq = snapshot.Seq
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frame); err != nil {
			logger.Debug("Radar stream write failed", slog.Any("error", err))

			return false
		}

		return true
	}

	for {
		select {
		case <-ctx.Done():
			writeClose(conn, "")

			return
		case <-sessionDone:
			// No update follows Done, so whatever is queued is final.
		drain:
			for {
				select {
				case frame := <-queue.frames:
					if !write(frame) {
						return
					}
				default:
					break drain
				}
			}
			logger.Info("Radar session closed under stream")
			writeClose(conn, closeReasonSessionClosed)

			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case frame := <-queue.frames:
			if !write(frame) {
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeWait))
}

// frameQueue holds the newest frames of one client. When the client falls
// behind the oldest frame is replaced; every snapshot is a full render set so
// nothing but intermediate states is lost.
type frameQueue struct {
	frames chan any
}

func newFrameQueue(size int) *frameQueue {
	return &frameQueue{frames: make(chan any, size)}
}

// push never blocks. It reports whether an older frame was dropped.
func (q *frameQueue) push(frame any) (dropped bool) {
	for {
		select {
		case q.frames <- frame:
			return dropped
		default:
		}

		select {
		case <-q.frames:
			dropped = true
		default:
		}
	}
}

func frameFromUpdate(update entity.RadarUpdate) any {
	if update.IsError() {
		return errorFrame(update.Seq, update.Err)
	}

	return SnapshotFrame{
		Type:      frameTypeSnapshot,
		Seq:       update.Seq,
		HandleID:  update.HandleID.String(),
		Condition: update.Condition,
		Entities:  nonNil(update.Entities),
		Dropped:   update.Dropped,
	}
}

func errorFrame(seq uint64, err error) ErrorFrame {
	frame := ErrorFrame{
		Type:    frameTypeError,
		Seq:     seq,
		Code:    domainerrors.ErrInternalError.ErrorCode(),
		Message: domainerrors.ErrInternalError.Message(),
	}

	var appErr domainerrors.AppError
	if errors.As(err, &appErr) {
		frame.Code = appErr.ErrorCode()
		frame.Message = appErr.Message()
		frame.Details = appErr.Details()
	}

	return frame
}

func nonNil(entities []entity.RenderEntity) []entity.RenderEntity {
	if entities == nil {
		return []entity.RenderEntity{}
	}

	return entities
}
