package core

// columns.go holds per-(user, table) column visibility, order and view
// settings.
//
// All operations on TableConfig are value-receiver and return a new config,
// matching ViewState. Pinned columns never move and can never be hidden;
// attempts are silent no-ops. A re-shown column goes to the end of the
// visible order; its previous position is not remembered.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// ColumnDefinition is one column's display state.
type ColumnDefinition struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Category string `json:"category,omitempty"`
	Visible  bool   `json:"visible"`
	Order    int    `json:"order"` // position among visible columns, -1 when hidden
	Pinned   bool   `json:"pinned,omitempty"`
}

// TableSettings are per-table view preferences outside the column list.
type TableSettings struct {
	PageSize  int       `json:"page_size"`
	SortBy    string    `json:"sort_by,omitempty"`
	SortOrder SortOrder `json:"sort_order,omitempty"`
	Density   string    `json:"density,omitempty"` // "comfortable" or "compact"
}

// TableConfig is the persisted row for one (user, table).
type TableConfig struct {
	UserID    string             `json:"user_id"`
	Table     string             `json:"table"`
	Columns   []ColumnDefinition `json:"columns"`
	Settings  TableSettings      `json:"settings"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// DefaultPageSize is used when neither the saved config nor the caller sets one.
const DefaultPageSize = 25

// DefaultTableConfig builds the implicit config for a table nobody has
// customized yet: every non-hidden field visible in declaration order,
// pinned fields first.
func DefaultTableConfig(def TableDefinition, userID string) TableConfig {
	cfg := TableConfig{
		UserID: userID,
		Table:  def.Info.Key,
		Settings: TableSettings{
			PageSize:  DefaultPageSize,
			SortBy:    FieldEmail,
			SortOrder: SortAsc,
			Density:   "comfortable",
		},
	}
	for _, spec := range def.FieldSpecs {
		cfg.Columns = append(cfg.Columns, ColumnDefinition{
			Key:      spec.Name,
			Label:    spec.DisplayLabel(),
			Category: spec.Category,
			Visible:  spec.Pinned || !spec.Hidden,
			Pinned:   spec.Pinned,
		})
	}
	return cfg.renumber(nil)
}

func (c TableConfig) clone() TableConfig {
	out := c
	out.Columns = append([]ColumnDefinition(nil), c.Columns...)
	return out
}

// renumber assigns Order 0..n-1 to visible columns. Pinned columns come
// first; the rest follow visibleOrder when given, or their current Order.
func (c TableConfig) renumber(visibleOrder []string) TableConfig {
	pos := make(map[string]int, len(visibleOrder))
	for i, k := range visibleOrder {
		pos[k] = i
	}

	idx := make([]int, 0, len(c.Columns))
	for i, col := range c.Columns {
		if col.Visible {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ca, cb := c.Columns[idx[a]], c.Columns[idx[b]]
		if ca.Pinned != cb.Pinned {
			return ca.Pinned
		}
		if visibleOrder != nil {
			return pos[ca.Key] < pos[cb.Key]
		}
		return ca.Order < cb.Order
	})

	for i := range c.Columns {
		c.Columns[i].Order = -1
	}
	for n, i := range idx {
		c.Columns[i].Order = n
	}
	return c
}

func (c TableConfig) find(key string) int {
	for i, col := range c.Columns {
		if col.Key == key {
			return i
		}
	}
	return -1
}

// VisibleKeys returns visible column keys in display order.
func (c TableConfig) VisibleKeys() []string {
	cols := make([]ColumnDefinition, 0, len(c.Columns))
	for _, col := range c.Columns {
		if col.Visible {
			cols = append(cols, col)
		}
	}
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Order < cols[j].Order })
	keys := make([]string, len(cols))
	for i, col := range cols {
		keys[i] = col.Key
	}
	return keys
}

// Hide removes key from the visible order.
func (c TableConfig) Hide(key string) TableConfig {
	i := c.find(key)
	if i < 0 || c.Columns[i].Pinned || !c.Columns[i].Visible {
		return c
	}
	out := c.clone()
	out.Columns[i].Visible = false
	return out.renumber(nil)
}

// Show makes key visible again at the end of the order.
func (c TableConfig) Show(key string) TableConfig {
	i := c.find(key)
	if i < 0 || c.Columns[i].Visible {
		return c
	}
	out := c.clone()
	out.Columns[i].Visible = true
	out.Columns[i].Order = len(c.Columns) + 1
	return out.renumber(nil)
}

// Move places key at position to in the visible order. Positions before the
// pinned block are clamped to just after it. Pinned or hidden columns do
// not move.
func (c TableConfig) Move(key string, to int) TableConfig {
	i := c.find(key)
	if i < 0 || c.Columns[i].Pinned || !c.Columns[i].Visible {
		return c
	}

	keys := c.VisibleKeys()
	pinned := 0
	for _, col := range c.Columns {
		if col.Visible && col.Pinned {
			pinned++
		}
	}

	from := -1
	for n, k := range keys {
		if k == key {
			from = n
			break
		}
	}
	keys = append(keys[:from], keys[from+1:]...)

	if to < pinned {
		to = pinned
	}
	if to > len(keys) {
		to = len(keys)
	}
	keys = append(keys[:to], append([]string{key}, keys[to:]...)...)

	return c.clone().renumber(keys)
}

// Reset returns the default config for def, keeping the user.
func (c TableConfig) Reset(def TableDefinition) TableConfig {
	return DefaultTableConfig(def, c.UserID)
}

// Normalize reconciles a stored config with the current table definition:
// columns that no longer exist are dropped, new columns are appended hidden,
// pinned flags follow the definition, and the page size gets a default.
func (c TableConfig) Normalize(def TableDefinition) TableConfig {
	out := TableConfig{
		UserID:    c.UserID,
		Table:     def.Info.Key,
		Settings:  c.Settings,
		UpdatedAt: c.UpdatedAt,
	}

	stored := make(map[string]ColumnDefinition, len(c.Columns))
	for _, col := range c.Columns {
		stored[col.Key] = col
	}

	for _, spec := range def.FieldSpecs {
		col, ok := stored[spec.Name]
		if !ok {
			col = ColumnDefinition{Key: spec.Name, Order: len(def.FieldSpecs) + 1}
		}
		col.Label = spec.DisplayLabel()
		col.Category = spec.Category
		col.Pinned = spec.Pinned
		if spec.Pinned {
			col.Visible = true
		}
		out.Columns = append(out.Columns, col)
	}

	if out.Settings.PageSize == 0 {
		out.Settings.PageSize = DefaultPageSize
	}
	if out.Settings.SortOrder == "" {
		out.Settings.SortOrder = SortAsc
	}
	if _, ok := def.Field(out.Settings.SortBy); !ok {
		out.Settings.SortBy = FieldEmail
	}
	return out.renumber(nil)
}

// ViewState returns the initial view for this config.
func (c TableConfig) ViewState() ViewState {
	v := NewViewState(c.Table, c.Settings.PageSize)
	v.SortBy = c.Settings.SortBy
	v.SortOrder = c.Settings.SortOrder
	v.VisibleColumns = c.VisibleKeys()
	return v
}

// ConfigStore persists TableConfig rows keyed by (user, table).
// GetTableConfig returns a NotFoundError when no row exists.
type ConfigStore interface {
	GetTableConfig(ctx context.Context, userID, table string) (TableConfig, error)
	UpsertTableConfig(ctx context.Context, cfg TableConfig) error
	DeleteTableConfig(ctx context.Context, userID, table string) error
}

// ColumnConfigStore wraps a ConfigStore with defaulting and normalization.
type ColumnConfigStore struct {
	store ConfigStore
	now   func() time.Time
}

// NewColumnConfigStore creates a ColumnConfigStore over store.
func NewColumnConfigStore(store ConfigStore) *ColumnConfigStore {
	return &ColumnConfigStore{store: store, now: time.Now}
}

// Load returns the saved config for (user, table) or the default. A missing
// row is normal; any other failure is logged and also falls back to the
// default so the view is never blocked.
func (s *ColumnConfigStore) Load(ctx context.Context, userID string, def TableDefinition) TableConfig {
	cfg, err := s.store.GetTableConfig(ctx, userID, def.Info.Key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("column config load failed, using defaults",
				"user", userID,
				"table", def.Info.Key,
				"error", err,
			)
		}
		return DefaultTableConfig(def, userID)
	}
	cfg.UserID = userID
	return cfg.Normalize(def)
}

// Save upserts cfg. Last write wins.
func (s *ColumnConfigStore) Save(ctx context.Context, def TableDefinition, cfg TableConfig) (TableConfig, error) {
	if cfg.UserID == "" {
		return TableConfig{}, NewValidationError("user_id", nil, "user is required")
	}
	cfg = cfg.Normalize(def)
	cfg.UpdatedAt = s.now().UTC()
	if err := s.store.UpsertTableConfig(ctx, cfg); err != nil {
		return TableConfig{}, fmt.Errorf("save column config: %w", err)
	}
	return cfg, nil
}

// Reset deletes the saved row and returns the default.
func (s *ColumnConfigStore) Reset(ctx context.Context, userID string, def TableDefinition) (TableConfig, error) {
	if err := s.store.DeleteTableConfig(ctx, userID, def.Info.Key); err != nil && !errors.Is(err, ErrNotFound) {
		return TableConfig{}, fmt.Errorf("reset column config: %w", err)
	}
	return DefaultTableConfig(def, userID), nil
}

// Apply loads the config, runs op on it and saves the result.
func (s *ColumnConfigStore) Apply(ctx context.Context, userID string, def TableDefinition, op func(TableConfig) TableConfig) (TableConfig, error) {
	cfg := s.Load(ctx, userID, def)
	return s.Save(ctx, def, op(cfg))
}
