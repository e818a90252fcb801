// Package api serves the kanban board over HTTP. Drag input arrives as
// requests, the rendered columns go back as JSON and over an SSE stream.
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-api/board"
	"board-api/domain"
	"board-api/remote"
	"board-api/storage"
)

const maxBodySize = 64 << 10

type routeHandler func(c echo.Context, m *boardRequestMetrics, userID string) error

type server struct {
	registry *Registry
	auth     Authenticator
	logger   *log.Logger
}

// Register wires up all board routes on the provided Echo instance.
func Register(e *echo.Echo, registry *Registry, auth Authenticator, logger *log.Logger) {
	s := &server{registry: registry, auth: auth, logger: logger}
	e.JSONSerializer = sonicSerializer{}

	e.GET("/healthz", healthz())
	e.GET("/api/board", s.route("/api/board", s.getBoard))
	e.POST("/api/board/refresh", s.route("/api/board/refresh", s.refreshBoard))
	e.POST("/api/board/drag/start", s.route("/api/board/drag/start", s.dragStart))
	e.POST("/api/board/drag/over", s.route("/api/board/drag/over", s.dragOver))
	e.POST("/api/board/drag/end", s.route("/api/board/drag/end", s.dragEnd))
	e.POST("/api/board/drag/cancel", s.route("/api/board/drag/cancel", s.dragCancel))
	e.POST("/api/board/tasks", s.route("/api/board/tasks", s.createTask))
	e.PATCH("/api/board/tasks/:id/status", s.route("/api/board/tasks/:id/status", s.updateTaskStatus))
	e.DELETE("/api/board/tasks/:id", s.route("/api/board/tasks/:id", s.deleteTask))
	e.GET("/api/board/stream", s.route("/api/board/stream", s.streamBoard))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func (s *server) route(name string, h routeHandler) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newBoardRequestMetrics(c.Request().Context(), s.logger, name)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := s.auth.UserIDFromAuthHeader(authHeader(c))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}
		metrics.SetUser(userID)
		if token, err := bearerToken(authHeader(c)); err == nil {
			c.SetRequest(c.Request().WithContext(remote.WithBearer(c.Request().Context(), token)))
			s.registry.remember(userID, token)
		}
		return h(c, metrics, userID)
	}
}

func (s *server) loadBoard(c echo.Context, m *boardRequestMetrics, userID string) (*board.Board, error) {
	start := time.Now()
	b, err := s.registry.Board(c.Request().Context(), userID)
	m.ObserveStore(time.Since(start))
	return b, err
}

func (s *server) getBoard(c echo.Context, m *boardRequestMetrics, userID string) error {
	b, err := s.loadBoard(c, m, userID)
	if err != nil {
		return s.storeError(c, m, err)
	}
	return c.JSON(http.StatusOK, render(b))
}

func (s *server) refreshBoard(c echo.Context, m *boardRequestMetrics, userID string) error {
	start := time.Now()
	b, err := s.registry.Refresh(c.Request().Context(), userID)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return s.storeError(c, m, err)
	}
	return c.JSON(http.StatusOK, render(b))
}

func (s *server) dragStart(c echo.Context, m *boardRequestMetrics, userID string) error {
	var req dragStartRequest
	if err := decodeBody(c, &req); err != nil {
		m.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	b, err := s.loadBoard(c, m, userID)
	if err != nil {
		return s.storeError(c, m, err)
	}
	if !b.DragStart(req.TaskID) {
		m.SetErrorStage("unknown_task")
		return c.String(http.StatusNotFound, "task not on board")
	}
	return c.JSON(http.StatusOK, render(b))
}

func (s *server) dragOver(c echo.Context, m *boardRequestMetrics, userID string) error {
	req, ok, err := s.decodeTarget(c, m)
	if !ok {
		return err
	}
	b, err := s.loadBoard(c, m, userID)
	if err != nil {
		return s.storeError(c, m, err)
	}
	b.DragOver(req.Over)
	return c.JSON(http.StatusOK, render(b))
}

func (s *server) dragEnd(c echo.Context, m *boardRequestMetrics, userID string) error {
	req, ok, err := s.decodeTarget(c, m)
	if !ok {
		return err
	}
	b, err := s.loadBoard(c, m, userID)
	if err != nil {
		return s.storeError(c, m, err)
	}
	b.Drop(req.Over)
	return c.JSON(http.StatusAccepted, render(b))
}

func (s *server) dragCancel(c echo.Context, m *boardRequestMetrics, userID string) error {
	b, err := s.loadBoard(c, m, userID)
	if err != nil {
		return s.storeError(c, m, err)
	}
	b.Cancel()
	return c.JSON(http.StatusOK, render(b))
}

func (s *server) createTask(c echo.Context, m *boardRequestMetrics, userID string) error {
	var req domain.NewTask
	if err := decodeBody(c, &req); err != nil {
		m.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if err := req.Normalize(); err != nil {
		m.SetErrorStage("invalid_task")
		return c.String(http.StatusBadRequest, err.Error())
	}
	b, err := s.loadBoard(c, m, userID)
	if err != nil {
		return s.storeError(c, m, err)
	}

	start := time.Now()
	task, err := s.registry.store.CreateTask(c.Request().Context(), userID, req)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return s.storeError(c, m, err)
	}
	b.PutTask(task)
	return c.JSON(http.StatusCreated, render(b))
}

func (s *server) updateTaskStatus(c echo.Context, m *boardRequestMetrics, userID string) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		m.SetErrorStage("invalid_id")
		return c.String(http.StatusBadRequest, "invalid task id")
	}
	var req domain.StatusUpdate
	if err := decodeBody(c, &req); err != nil {
		m.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if !req.Status.Valid() {
		m.SetErrorStage("invalid_status")
		return c.String(http.StatusBadRequest, domain.ErrUnknownStatus.Error())
	}
	b, err := s.loadBoard(c, m, userID)
	if err != nil {
		return s.storeError(c, m, err)
	}

	start := time.Now()
	task, err := s.registry.store.UpdateTaskStatus(c.Request().Context(), userID, id, req.Status)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return s.storeError(c, m, err)
	}
	b.PutTask(task)
	return c.JSON(http.StatusOK, render(b))
}

func (s *server) deleteTask(c echo.Context, m *boardRequestMetrics, userID string) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		m.SetErrorStage("invalid_id")
		return c.String(http.StatusBadRequest, "invalid task id")
	}
	b, err := s.loadBoard(c, m, userID)
	if err != nil {
		return s.storeError(c, m, err)
	}

	start := time.Now()
	err = s.registry.store.DeleteTask(c.Request().Context(), userID, id)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return s.storeError(c, m, err)
	}
	b.DeleteTask(id)
	return c.NoContent(http.StatusNoContent)
}

func (s *server) streamBoard(c echo.Context, m *boardRequestMetrics, userID string) error {
	b, err := s.loadBoard(c, m, userID)
	if err != nil {
		return s.storeError(c, m, err)
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		m.SetErrorStage("stream_unsupported")
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}

	ctx := c.Request().Context()
	ch := s.registry.broker.subscribe(userID)
	defer s.registry.broker.unsubscribe(userID, ch)
	for {
		data, err := sonic.Marshal(render(b))
		if err != nil {
			m.SetErrorStage("encode")
			return err
		}
		if _, err := c.Response().Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := c.Response().Write(data); err != nil {
			return err
		}
		if _, err := c.Response().Write([]byte("\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
		}
	}
}

// decodeTarget reads a drop target body. When ok is false the error response
// has already been written and err is what the handler should return.
func (s *server) decodeTarget(c echo.Context, m *boardRequestMetrics) (req dragTargetRequest, ok bool, err error) {
	if err := decodeBody(c, &req); err != nil {
		m.SetErrorStage("decode")
		return req, false, c.String(http.StatusBadRequest, "invalid body")
	}
	if req.Over != nil {
		if err := req.Over.Validate(); err != nil {
			m.SetErrorStage("invalid_target")
			return req, false, c.String(http.StatusBadRequest, err.Error())
		}
	}
	return req, true, nil
}

func (s *server) storeError(c echo.Context, m *boardRequestMetrics, err error) error {
	var se *remote.StatusError
	switch {
	case errors.Is(err, storage.ErrTaskNotFound), errors.As(err, &se) && se.Code == http.StatusNotFound:
		m.SetErrorStage("not_found")
		return c.String(http.StatusNotFound, "task not found")
	}
	m.SetErrorStage("store")
	s.logger.WithFields(log.Fields{"route": m.route, "user": m.userID, "error": err.Error()}).Error("task store request failed")
	return c.String(http.StatusBadGateway, "task store unavailable")
}

func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func render(b *board.Board) boardResponse {
	resp := boardResponse{Columns: b.Columns(), State: b.State().String()}
	if t, ok := b.Active(); ok {
		id := t.ID
		resp.ActiveTaskID = &id
	}
	return resp
}

type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (sonicSerializer) Deserialize(c echo.Context, i any) error {
	if err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}
