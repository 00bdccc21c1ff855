package core

import (
	"context"
	"fmt"
)

// writableTable looks up a table for column config changes. Unknown tables
// are a ValidationError here rather than NotFound: the caller supplied them.
func writableTable(table string) (TableDefinition, error) {
	def, ok := Get(table)
	if !ok {
		return TableDefinition{}, NewValidationError("table", table, fmt.Sprintf("unknown table %s", table))
	}
	return def, nil
}

// ColumnConfig returns the caller's config for table, or the default.
func (s *Service) ColumnConfig(ctx context.Context, userID, table string) (TableConfig, error) {
	def, err := Lookup(table)
	if err != nil {
		return TableConfig{}, err
	}
	return s.columns.Load(ctx, userID, def), nil
}

// SaveColumnConfig upserts the caller's config. Last write wins.
func (s *Service) SaveColumnConfig(ctx context.Context, userID string, cfg TableConfig) (TableConfig, error) {
	def, err := writableTable(cfg.Table)
	if err != nil {
		return TableConfig{}, err
	}
	cfg.UserID = userID
	saved, err := s.columns.Save(ctx, def, cfg)
	if err != nil {
		return TableConfig{}, err
	}
	recordAudit(ctx, s.audit, AuditEntry{Action: ActionColumnsSave, TableKey: def.Info.Key, UserID: userID})
	return saved, nil
}

// ResetColumnConfig deletes the caller's saved config.
func (s *Service) ResetColumnConfig(ctx context.Context, userID, table string) (TableConfig, error) {
	def, err := writableTable(table)
	if err != nil {
		return TableConfig{}, err
	}
	cfg, err := s.columns.Reset(ctx, userID, def)
	if err != nil {
		return TableConfig{}, err
	}
	recordAudit(ctx, s.audit, AuditEntry{Action: ActionColumnsReset, TableKey: def.Info.Key, UserID: userID})
	return cfg, nil
}

func (s *Service) applyColumns(ctx context.Context, userID, table string, op func(TableConfig) TableConfig) (TableConfig, error) {
	def, err := writableTable(table)
	if err != nil {
		return TableConfig{}, err
	}
	if userID == "" {
		return TableConfig{}, NewValidationError("user_id", nil, "user is required")
	}
	return s.columns.Apply(ctx, userID, def, op)
}

// HideColumn hides key. Pinned columns are left alone.
func (s *Service) HideColumn(ctx context.Context, userID, table, key string) (TableConfig, error) {
	return s.applyColumns(ctx, userID, table, func(c TableConfig) TableConfig { return c.Hide(key) })
}

// ShowColumn shows key at the end of the visible order.
func (s *Service) ShowColumn(ctx context.Context, userID, table, key string) (TableConfig, error) {
	return s.applyColumns(ctx, userID, table, func(c TableConfig) TableConfig { return c.Show(key) })
}

// MoveColumn moves key to position to among the visible columns.
func (s *Service) MoveColumn(ctx context.Context, userID, table, key string, to int) (TableConfig, error) {
	return s.applyColumns(ctx, userID, table, func(c TableConfig) TableConfig { return c.Move(key, to) })
}

// SaveTemplate stores the mapping of a job in the ColumnMapping state as a
// named template for its table.
func (s *Service) SaveTemplate(ctx context.Context, userID, jobID, name string) (MappingTemplate, error) {
	if name == "" {
		return MappingTemplate{}, NewValidationError("name", nil, "template name is required")
	}
	job, err := s.sessions.Get(jobID, userID)
	if err != nil {
		return MappingTemplate{}, err
	}
	view := job.View(0)
	if view.State != StateMapping && view.State != StateConfirm {
		return MappingTemplate{}, transitionError(view.State, "save template")
	}

	t := MappingTemplate{
		ID:      newID(),
		Table:   view.Table,
		Name:    name,
		Headers: view.Headers,
		Mapping: view.Mapping,
	}
	t.CreatedAt = nowUTC()
	if err := s.store.SaveTemplate(ctx, t); err != nil {
		return MappingTemplate{}, fmt.Errorf("save template: %w", err)
	}
	recordAudit(ctx, s.audit, AuditEntry{Action: ActionTemplateCreate, TableKey: t.Table, UserID: userID})
	return t, nil
}

// ListTemplates returns the saved templates for table.
func (s *Service) ListTemplates(ctx context.Context, table string) ([]MappingTemplate, error) {
	if _, err := Lookup(table); err != nil {
		return nil, err
	}
	templates, err := s.store.ListTemplates(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}
