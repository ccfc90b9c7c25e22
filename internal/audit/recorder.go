package audit

import (
	"context"
	"time"
)

// Logger is the subset of logging.Logger the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// writeTimeout bounds each audit insert so a locked database never stalls
// the operation being audited.
const writeTimeout = 5 * time.Second

// Recorder writes device audit entries. A failed write is logged and
// otherwise ignored: auditing never fails the audited operation.
// A nil *Recorder discards everything.
type Recorder struct {
	repo   Repository
	source string
	logger Logger
}

// NewRecorder creates a Recorder tagging entries with source.
func NewRecorder(repo Repository, source string, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, source: source, logger: logger}
}

// WithSource returns a copy of r that tags entries with source.
func (r *Recorder) WithSource(source string) *Recorder {
	if r == nil {
		return nil
	}
	cpy := *r
	cpy.source = source
	return &cpy
}

// Device records action against deviceID by userID.
func (r *Recorder) Device(ctx context.Context, action, deviceID, userID string, details map[string]any) {
	if r == nil || r.repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	entry := &AuditLog{
		Action:     action,
		EntityType: EntityDevice,
		EntityID:   deviceID,
		UserID:     userID,
		Source:     r.source,
		Details:    details,
	}
	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Warn("audit write failed", "action", action, "device", deviceID, "error", err)
	}
}

// Login records an API login attempt.
func (r *Recorder) Login(ctx context.Context, username string, succeeded bool) {
	if r == nil || r.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	entry := &AuditLog{
		Action:     ActionLogin,
		EntityType: "operator",
		EntityID:   username,
		UserID:     username,
		Source:     r.source,
		Details:    map[string]any{"succeeded": succeeded},
	}
	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Warn("audit write failed", "action", ActionLogin, "error", err)
	}
}
