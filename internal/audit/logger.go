package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventCodeIssued        EventType = "code_issued"
	EventAccessGranted     EventType = "access_granted"
	EventAccessDenied      EventType = "access_denied"
	EventUnlockFailed      EventType = "unlock_failed"
	EventRelockFired       EventType = "relock_fired"
	EventRelockFailed      EventType = "relock_failed"
	EventDoorUnsecured     EventType = "door_unsecured"
	EventRateLimitExceed   EventType = "rate_limit_exceeded"
	EventPushReceived      EventType = "push_received"
	EventOrchestratorStart EventType = "orchestrator_start"
	EventOrchestratorStop  EventType = "orchestrator_stop"
)

type Event struct {
	Type          EventType
	ReservationID string
	Code          string // pre-masked by the caller
	IP            string
	UserAgent     string
	Details       map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "access").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.ReservationID != "" {
		logger = logger.With().Str("reservation_id", event.ReservationID).Logger()
	}
	if event.Code != "" {
		logger = logger.With().Str("code", event.Code).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("access audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = getClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
