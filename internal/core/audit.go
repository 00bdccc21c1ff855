package core

import (
	"context"
	"log/slog"
	"time"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionImport         AuditAction = "import"
	ActionImportRetry    AuditAction = "import_retry"
	ActionImportFailed   AuditAction = "import_failed"
	ActionColumnsSave    AuditAction = "columns_save"
	ActionColumnsReset   AuditAction = "columns_reset"
	ActionTemplateCreate AuditAction = "template_create"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow    AuditSeverity = "low"
	SeverityMedium AuditSeverity = "medium"
	SeverityHigh   AuditSeverity = "high"
)

// AuditEntry represents a single audit record.
type AuditEntry struct {
	ID          string        `json:"id"`
	Action      AuditAction   `json:"action"`
	Severity    AuditSeverity `json:"severity"`
	TableKey    string        `json:"tableKey"`
	UserID      string        `json:"userId,omitempty"`
	IPAddress   string        `json:"ipAddress,omitempty"`
	UserAgent   string        `json:"userAgent,omitempty"`
	ImportID    string        `json:"importId,omitempty"`
	FileName    string        `json:"fileName,omitempty"`
	TotalRows   int           `json:"totalRows,omitempty"`
	SuccessRows int           `json:"successRows,omitempty"`
	FailedRows  int           `json:"failedRows,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
}

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionImport, ActionImportRetry, ActionImportFailed:
		return SeverityHigh
	case ActionTemplateCreate:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// AuditSink receives audit entries. It is write-only and best-effort:
// callers log a failure and carry on.
type AuditSink interface {
	RecordAudit(ctx context.Context, entry AuditEntry) error
}

// LogAuditSink writes entries to the structured log.
type LogAuditSink struct{}

// RecordAudit implements AuditSink.
func (LogAuditSink) RecordAudit(ctx context.Context, e AuditEntry) error {
	slog.InfoContext(ctx, "audit",
		"id", e.ID,
		"action", e.Action,
		"severity", e.Severity,
		"table", e.TableKey,
		"user", e.UserID,
		"import_id", e.ImportID,
		"file", e.FileName,
		"total", e.TotalRows,
		"success", e.SuccessRows,
		"failed", e.FailedRows,
	)
	return nil
}

// MultiAuditSink fans an entry out to several sinks and reports the first
// failure after trying all of them.
type MultiAuditSink []AuditSink

// RecordAudit implements AuditSink.
func (m MultiAuditSink) RecordAudit(ctx context.Context, e AuditEntry) error {
	var first error
	for _, s := range m {
		if err := s.RecordAudit(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// recordAudit fills in id, severity and request metadata and writes e to
// sink. Failures are logged, never returned.
func recordAudit(ctx context.Context, sink AuditSink, e AuditEntry) {
	if sink == nil {
		return
	}
	if e.ID == "" {
		e.ID = newID()
	}
	e.Severity = determineSeverity(e.Action)
	if e.UserID == "" {
		e.UserID = GetUserFromContext(ctx)
	}
	if e.IPAddress == "" {
		e.IPAddress = GetIPAddressFromContext(ctx)
	}
	if e.UserAgent == "" {
		e.UserAgent = GetUserAgentFromContext(ctx)
	}
	if e.FinishedAt.IsZero() {
		e.FinishedAt = nowUTC()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = e.FinishedAt
	}

	if err := sink.RecordAudit(ctx, e); err != nil {
		slog.Warn("audit write failed",
			"action", e.Action,
			"table", e.TableKey,
			"import_id", e.ImportID,
			"error", err,
		)
	}
}
