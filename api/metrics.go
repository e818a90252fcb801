package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "board-api/api"
	requestSpanName    = "board.request"
	requestMetricsName = "board.request.metrics"
)

type boardRequestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	start         time.Time
	authDuration  time.Duration
	storeDuration time.Duration
	userID        string
	errorStage    string
}

func newBoardRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*boardRequestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName, trace.WithAttributes(
		attribute.String("board.route", route),
	))
	return &boardRequestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		start:  time.Now(),
	}, ctx
}

func (m *boardRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *boardRequestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration += duration
}

func (m *boardRequestMetrics) SetUser(userID string) {
	m.userID = userID
	m.span.SetAttributes(attribute.String("board.user", userID))
}

func (m *boardRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log ends the request span and emits one metrics line.
func (m *boardRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	m.span.SetAttributes(attribute.Int("http.status_code", status))
	if m.errorStage != "" {
		m.span.SetAttributes(attribute.String("board.error_stage", m.errorStage))
	}
	if err != nil {
		m.span.RecordError(err)
	}
	if err != nil || status >= 500 {
		m.span.SetStatus(codes.Error, m.errorStage)
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":    m.route,
		"status":   status,
		"total_ms": durationToMillis(time.Since(m.start)),
	}
	if m.userID != "" {
		fields["user"] = m.userID
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.storeDuration > 0 {
		fields["store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info(requestMetricsName)
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
