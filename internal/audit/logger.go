package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"m-taji/platform/internal/audit/domain"
	auditrepo "m-taji/platform/internal/audit/repository"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource. Used by auth and profile code paths.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource, metadata string)
}

// Emitter forwards audit entries to a secondary sink such as OpenTelemetry logs.
type Emitter interface {
	Emit(ctx context.Context, entry *domain.AuditLog)
}

// Logger implements AuditLogger using the audit repository, an optional IP extractor and optional emitters.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	emitters    []Emitter
	log         zerolog.Logger
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log zerolog.Logger, emitters ...Emitter) *Logger {
	return &Logger{
		repo:        repo,
		ipExtractor: ipExtractor,
		emitters:    emitters,
		log:         log.With().Str("component", "audit").Logger(),
	}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if l.repo != nil {
		if err := l.repo.Create(ctx, entry); err != nil {
			l.log.Error().Err(err).Str("action", action).Str("resource", resource).Msg("failed to log event")
		}
	}
	for _, e := range l.emitters {
		e.Emit(ctx, entry)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) LogEvent(context.Context, string, string, string, string) {}
