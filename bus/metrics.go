package bus

import (
	"time"

	log "github.com/sirupsen/logrus"
)

type consumeMetrics struct {
	logger         *log.Logger
	start          time.Time
	attempt        int
	kind           string
	messageID      string
	correlationID  string
	decodeDuration time.Duration
	handleDuration time.Duration
	retryDelay     time.Duration
	outcome        string
	settleErr      error
}

func newConsumeMetrics(logger *log.Logger, attempt int) *consumeMetrics {
	return &consumeMetrics{
		logger:  logger,
		start:   time.Now(),
		attempt: attempt,
	}
}

func (m *consumeMetrics) SetEnvelope(env Envelope) {
	m.kind = string(env.Kind)
	m.messageID = env.ID
	m.correlationID = env.CorrelationID
}

func (m *consumeMetrics) ObserveDecode(d time.Duration) {
	if d <= 0 {
		return
	}
	m.decodeDuration = d
}

func (m *consumeMetrics) ObserveHandle(d time.Duration) {
	if d <= 0 {
		return
	}
	m.handleDuration = d
}

func (m *consumeMetrics) SetOutcome(outcome string) { m.outcome = outcome }

func (m *consumeMetrics) SetRetryDelay(d time.Duration) { m.retryDelay = d }

func (m *consumeMetrics) SetSettleError(err error) { m.settleErr = err }

// Log emits one structured line per consumed message. Failures are logged
// at error level.
func (m *consumeMetrics) Log(err error) {
	if m == nil || m.logger == nil {
		return
	}
	fields := log.Fields{
		"attempt":  m.attempt,
		"outcome":  m.outcome,
		"total_ms": durationToMillis(time.Since(m.start)),
	}
	if m.kind != "" {
		fields["kind"] = m.kind
	}
	if m.messageID != "" {
		fields["message_id"] = m.messageID
	}
	if m.correlationID != "" {
		fields["correlation_id"] = m.correlationID
	}
	if m.decodeDuration > 0 {
		fields["decode_ms"] = durationToMillis(m.decodeDuration)
	}
	if m.handleDuration > 0 {
		fields["handle_ms"] = durationToMillis(m.handleDuration)
	}
	if m.retryDelay > 0 {
		fields["retry_in_ms"] = durationToMillis(m.retryDelay)
	}
	if m.settleErr != nil {
		fields["settle_error"] = m.settleErr.Error()
	}
	entry := m.logger.WithFields(fields)
	if err != nil {
		entry.WithError(err).Error("bus.consume.metrics")
		return
	}
	if m.settleErr != nil {
		entry.Warn("bus.consume.metrics")
		return
	}
	entry.Info("bus.consume.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
