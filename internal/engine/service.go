package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"schemakit/internal/audit"
	"schemakit/internal/schema"
	"schemakit/internal/store"
)

// FindOptions carries caller-supplied query shaping for Find, Count and
// ExecuteView. Conditions are AND-joined with each other and with whatever
// row-level restriction applies to the user; callers can narrow a result
// set but never widen it.
type FindOptions struct {
	Columns    []string
	Conditions []schema.Condition
	Sorts      []Sort
	Limit      int
	Offset     int
}

// Service orchestrates entity operations: permission checks, row-level
// restrictions, validation, SQL generation and execution, and workflow
// trigger dispatch. Every operation follows the same phase order, with
// authorization decided before any SQL is built or executed.
type Service struct {
	store      *store.Store
	registry   *schema.Registry
	builder    *Builder
	migrator   *store.Migrator
	dispatcher ActionDispatcher
	evaluator  *ExprEvaluator
	audit      audit.Recorder

	// q overrides the execution scope when the caller supplies a
	// transaction via WithQuerier; nil means the store's pool.
	q store.Querier

	ensured *ensuredSet
}

type ensuredSet struct {
	mu sync.Mutex
	m  map[string]bool
}

func (e *ensuredSet) has(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.m[key]
}

func (e *ensuredSet) mark(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.m[key] = true
}

func NewService(st *store.Store, registry *schema.Registry, dispatcher ActionDispatcher) *Service {
	if dispatcher == nil {
		dispatcher = &LogDispatcher{}
	}
	return &Service{
		store:      st,
		registry:   registry,
		builder:    NewBuilder(st.Dialect),
		migrator:   store.NewMigrator(st),
		dispatcher: dispatcher,
		evaluator:  NewExprEvaluator(),
		audit:      audit.Noop{},
		ensured:    &ensuredSet{m: make(map[string]bool)},
	}
}

// WithAudit returns a shallow copy of the service that records write
// operations to r.
func (s *Service) WithAudit(r audit.Recorder) *Service {
	if r == nil {
		r = audit.Noop{}
	}
	clone := *s
	clone.audit = r
	return &clone
}

// WithQuerier returns a shallow copy of the service whose statements run
// against q, typically a transaction started by the caller. The service
// never opens nested transactions of its own.
func (s *Service) WithQuerier(q store.Querier) *Service {
	clone := *s
	clone.q = q
	return &clone
}

func (s *Service) querier() store.Querier {
	if s.q != nil {
		return s.q
	}
	return s.store.DB
}

// Registry exposes the schema registry, mainly so admin surfaces can
// invalidate cache entries after catalog writes.
func (s *Service) Registry() *schema.Registry { return s.registry }

// Migrator exposes the table manager for admin-driven ensures.
func (s *Service) Migrator() *store.Migrator { return s.migrator }

// Create validates and inserts a record, stamps the system columns, and
// returns the stored row with the caller's read mask applied.
func (s *Service) Create(ctx context.Context, entity, tenant string, user *schema.UserContext, fields map[string]any) (map[string]any, error) {
	start := time.Now()
	cfg, err := s.registry.Load(ctx, entity, tenant)
	if err != nil {
		return nil, err
	}

	dec := Authorize(cfg, user, schema.ActionCreate, nil)
	if !dec.Allowed {
		return nil, s.denied(cfg, user, schema.ActionCreate)
	}
	if denied := CheckWriteMask(dec, fields); len(denied) > 0 {
		return nil, &PermissionError{
			Entity: cfg.Entity.Name,
			Action: schema.ActionCreate,
			UserID: userID(user),
			Reason: "fields not writable: " + strings.Join(denied, ", "),
		}
	}

	record := copyFields(fields)
	ApplyDefaults(cfg, record)
	if errs := ValidateRecord(cfg, record, true); len(errs) > 0 {
		return nil, &ValidationError{Details: errs}
	}

	if err := s.ensureTable(ctx, cfg, tenant); err != nil {
		return nil, err
	}

	idCol := cfg.IDColumn()
	if _, ok := record[idCol]; !ok {
		if !generatableID(cfg) {
			return nil, &ValidationError{Details: []FieldError{{
				Field: idCol, Rule: "required",
				Message: fmt.Sprintf("Field %s is required", idCol),
			}}}
		}
		record[idCol] = uuid.NewString()
	}
	now := time.Now().UTC()
	record["created_at"] = now
	record["updated_at"] = now
	if user != nil {
		record["created_by"] = user.ID
		record["updated_by"] = user.ID
	}
	encodeJSONFields(cfg, record)

	qr := s.builder.BuildInsert(tenant, cfg.Entity.TableName, record)
	if _, err := store.Exec(ctx, s.querier(), qr.SQL, qr.Params...); err != nil {
		return nil, s.writeError("create", cfg, tenant, err)
	}

	stored, err := s.fetchByID(ctx, cfg, tenant, record[idCol], nil)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		// insert succeeded but the row is not readable back; return what we wrote
		stored = record
	}

	s.fireTriggers(ctx, cfg, tenant, schema.TriggerCreate, stored, nil)
	s.recordAudit(cfg, tenant, schema.ActionCreate, user, record[idCol], start)

	ApplyReadMask(dec, []map[string]any{stored})
	return stored, nil
}

// FindByID returns a single record by id, or nil when no visible row
// matches. Rows outside the user's row-level restriction are treated as
// absent, not forbidden.
func (s *Service) FindByID(ctx context.Context, entity, tenant string, user *schema.UserContext, id any) (map[string]any, error) {
	cfg, err := s.registry.Load(ctx, entity, tenant)
	if err != nil {
		return nil, err
	}

	dec := Authorize(cfg, user, schema.ActionRead, nil)
	if !dec.Allowed {
		return nil, s.denied(cfg, user, schema.ActionRead)
	}
	restriction, err := DeriveRestriction(cfg, user)
	if err != nil {
		return nil, err
	}
	if err := s.ensureTable(ctx, cfg, tenant); err != nil {
		return nil, err
	}

	row, err := s.fetchByID(ctx, cfg, tenant, id, restriction)
	if err != nil || row == nil {
		return nil, err
	}
	ApplyReadMask(dec, []map[string]any{row})
	return row, nil
}

// Find returns the visible rows matching the caller's filters, AND-joined
// with the user's row-level restriction.
func (s *Service) Find(ctx context.Context, entity, tenant string, user *schema.UserContext, opts FindOptions) ([]map[string]any, error) {
	cfg, err := s.registry.Load(ctx, entity, tenant)
	if err != nil {
		return nil, err
	}

	dec := Authorize(cfg, user, schema.ActionRead, nil)
	if !dec.Allowed {
		return nil, s.denied(cfg, user, schema.ActionRead)
	}
	restriction, err := DeriveRestriction(cfg, user)
	if err != nil {
		return nil, err
	}
	if errs := validateFilters(cfg, opts); len(errs) > 0 {
		return nil, &ValidationError{Details: errs}
	}
	if err := s.ensureTable(ctx, cfg, tenant); err != nil {
		return nil, err
	}

	qr := s.builder.BuildSelect(Query{
		Tenant:      tenant,
		Table:       cfg.Entity.TableName,
		Columns:     opts.Columns,
		Conditions:  opts.Conditions,
		Restriction: restriction,
		Sorts:       opts.Sorts,
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	})
	rows, err := store.QueryRows(ctx, s.querier(), qr.SQL, qr.Params...)
	if err != nil {
		return nil, &DatabaseError{Op: "find", Entity: cfg.Entity.Name, Tenant: tenant, Err: err}
	}
	s.normalize(cfg, rows)
	ApplyReadMask(dec, rows)
	return rows, nil
}

// Count returns the number of visible rows matching the caller's filters.
func (s *Service) Count(ctx context.Context, entity, tenant string, user *schema.UserContext, conditions []schema.Condition) (int64, error) {
	cfg, err := s.registry.Load(ctx, entity, tenant)
	if err != nil {
		return 0, err
	}

	dec := Authorize(cfg, user, schema.ActionRead, nil)
	if !dec.Allowed {
		return 0, s.denied(cfg, user, schema.ActionRead)
	}
	restriction, err := DeriveRestriction(cfg, user)
	if err != nil {
		return 0, err
	}
	if errs := validateFilters(cfg, FindOptions{Conditions: conditions}); len(errs) > 0 {
		return 0, &ValidationError{Details: errs}
	}
	if err := s.ensureTable(ctx, cfg, tenant); err != nil {
		return 0, err
	}

	qr := s.builder.BuildCount(Query{
		Tenant:      tenant,
		Table:       cfg.Entity.TableName,
		Conditions:  conditions,
		Restriction: restriction,
	})
	row, err := store.QueryRow(ctx, s.querier(), qr.SQL, qr.Params...)
	if err != nil {
		return 0, &DatabaseError{Op: "count", Entity: cfg.Entity.Name, Tenant: tenant, Err: err}
	}
	return toInt64(row["count"]), nil
}

// Update applies a partial update to the record with the given id. A row
// that is missing, or filtered out by the user's restriction, yields
// EntityNotFoundError.
func (s *Service) Update(ctx context.Context, entity, tenant string, user *schema.UserContext, id any, fields map[string]any) (map[string]any, error) {
	start := time.Now()
	cfg, err := s.registry.Load(ctx, entity, tenant)
	if err != nil {
		return nil, err
	}

	// coarse check first so an unauthorized caller causes no SQL at all
	if dec := Authorize(cfg, user, schema.ActionUpdate, nil); !dec.Allowed {
		return nil, s.denied(cfg, user, schema.ActionUpdate)
	}
	restriction, err := DeriveRestriction(cfg, user)
	if err != nil {
		return nil, err
	}
	if err := s.ensureTable(ctx, cfg, tenant); err != nil {
		return nil, err
	}

	current, err := s.fetchByID(ctx, cfg, tenant, id, restriction)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &EntityNotFoundError{Entity: cfg.Entity.Name, ID: fmt.Sprint(id)}
	}

	// re-check against the current record so condition-scoped permissions
	// (e.g. status = draft) are decided on real values
	dec := Authorize(cfg, user, schema.ActionUpdate, current)
	if !dec.Allowed {
		return nil, s.denied(cfg, user, schema.ActionUpdate)
	}
	if denied := CheckWriteMask(dec, fields); len(denied) > 0 {
		return nil, &PermissionError{
			Entity: cfg.Entity.Name,
			Action: schema.ActionUpdate,
			UserID: userID(user),
			Reason: "fields not writable: " + strings.Join(denied, ", "),
		}
	}

	record := copyFields(fields)
	if errs := ValidateRecord(cfg, record, false); len(errs) > 0 {
		return nil, &ValidationError{Details: errs}
	}
	record["updated_at"] = time.Now().UTC()
	if user != nil {
		record["updated_by"] = user.ID
	}
	encodeJSONFields(cfg, record)

	qr := s.builder.BuildUpdateByID(tenant, cfg.Entity.TableName, cfg.IDColumn(), id, record, restriction)
	n, err := store.Exec(ctx, s.querier(), qr.SQL, qr.Params...)
	if err != nil {
		return nil, s.writeError("update", cfg, tenant, err)
	}
	if n == 0 {
		return nil, &EntityNotFoundError{Entity: cfg.Entity.Name, ID: fmt.Sprint(id)}
	}

	updated, err := s.fetchByID(ctx, cfg, tenant, id, nil)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		updated = record
	}

	s.fireTriggers(ctx, cfg, tenant, schema.TriggerUpdate, updated, current)
	s.recordAudit(cfg, tenant, schema.ActionUpdate, user, id, start)

	ApplyReadMask(dec, []map[string]any{updated})
	return updated, nil
}

// Delete removes the record with the given id. A row that is missing, or
// filtered out by the user's restriction, yields EntityNotFoundError.
func (s *Service) Delete(ctx context.Context, entity, tenant string, user *schema.UserContext, id any) error {
	start := time.Now()
	cfg, err := s.registry.Load(ctx, entity, tenant)
	if err != nil {
		return err
	}

	if dec := Authorize(cfg, user, schema.ActionDelete, nil); !dec.Allowed {
		return s.denied(cfg, user, schema.ActionDelete)
	}
	restriction, err := DeriveRestriction(cfg, user)
	if err != nil {
		return err
	}
	if err := s.ensureTable(ctx, cfg, tenant); err != nil {
		return err
	}

	current, err := s.fetchByID(ctx, cfg, tenant, id, restriction)
	if err != nil {
		return err
	}
	if current == nil {
		return &EntityNotFoundError{Entity: cfg.Entity.Name, ID: fmt.Sprint(id)}
	}
	if dec := Authorize(cfg, user, schema.ActionDelete, current); !dec.Allowed {
		return s.denied(cfg, user, schema.ActionDelete)
	}

	qr := s.builder.BuildDeleteByID(tenant, cfg.Entity.TableName, cfg.IDColumn(), id, restriction)
	n, err := store.Exec(ctx, s.querier(), qr.SQL, qr.Params...)
	if err != nil {
		return s.writeError("delete", cfg, tenant, err)
	}
	if n == 0 {
		return &EntityNotFoundError{Entity: cfg.Entity.Name, ID: fmt.Sprint(id)}
	}

	s.fireTriggers(ctx, cfg, tenant, schema.TriggerDelete, current, current)
	s.recordAudit(cfg, tenant, schema.ActionDelete, user, id, start)
	return nil
}

// ExecuteView runs a named view: the view's fixed filters, joins and
// default sort, combined with the caller's additive filters. Fixed
// filters always apply; callers can only narrow them further.
func (s *Service) ExecuteView(ctx context.Context, entity, tenant, viewName string, user *schema.UserContext, opts FindOptions) ([]map[string]any, error) {
	cfg, err := s.registry.Load(ctx, entity, tenant)
	if err != nil {
		return nil, err
	}
	view := cfg.View(viewName)
	if view == nil {
		return nil, &schema.LoadError{
			Entity: cfg.Entity.Name,
			Tenant: tenant,
			Reason: fmt.Sprintf("view %q not found", viewName),
		}
	}

	dec := Authorize(cfg, user, schema.ActionRead, nil)
	if !dec.Allowed {
		return nil, s.denied(cfg, user, schema.ActionRead)
	}
	restriction, err := DeriveRestriction(cfg, user)
	if err != nil {
		return nil, err
	}
	if errs := validateFilters(cfg, opts); len(errs) > 0 {
		return nil, &ValidationError{Details: errs}
	}
	if err := s.ensureTable(ctx, cfg, tenant); err != nil {
		return nil, err
	}

	conditions := make([]schema.Condition, 0, len(view.Query.Filters)+len(opts.Conditions))
	conditions = append(conditions, view.Query.Filters...)
	conditions = append(conditions, opts.Conditions...)

	var joins []Join
	for _, j := range view.Query.Joins {
		joins = append(joins, Join{
			Table:      j.Table,
			Alias:      j.Alias,
			Kind:       j.Type,
			LeftField:  j.LeftField,
			RightField: j.RightField,
		})
	}
	sorts := opts.Sorts
	if len(sorts) == 0 {
		for _, vs := range view.Query.Sort {
			sorts = append(sorts, Sort{Field: vs.Field, Direction: vs.Direction})
		}
	}
	columns := opts.Columns
	if len(columns) == 0 {
		columns = view.Fields
	}

	qr := s.builder.BuildSelect(Query{
		Tenant:      tenant,
		Table:       cfg.Entity.TableName,
		Columns:     columns,
		Conditions:  conditions,
		Restriction: restriction,
		Joins:       joins,
		Sorts:       sorts,
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	})
	rows, err := store.QueryRows(ctx, s.querier(), qr.SQL, qr.Params...)
	if err != nil {
		return nil, &DatabaseError{Op: "view", Entity: cfg.Entity.Name, Tenant: tenant, Err: err}
	}
	s.normalize(cfg, rows)
	ApplyReadMask(dec, rows)
	return rows, nil
}

// RLSHints returns the restriction conditions flagged as exposed for the
// user's roles, so clients can pre-filter UI state without another query.
func (s *Service) RLSHints(ctx context.Context, entity, tenant string, user *schema.UserContext) ([]schema.RLSCondition, error) {
	cfg, err := s.registry.Load(ctx, entity, tenant)
	if err != nil {
		return nil, err
	}
	return ExposedConditions(cfg, user), nil
}

// EnsureTable creates or extends the physical table for an entity without
// going through a record operation, for admin-driven provisioning.
func (s *Service) EnsureTable(ctx context.Context, entity, tenant string) error {
	cfg, err := s.registry.Load(ctx, entity, tenant)
	if err != nil {
		return err
	}
	return s.ensureTable(ctx, cfg, tenant)
}

func (s *Service) ensureTable(ctx context.Context, cfg *schema.EntityConfiguration, tenant string) error {
	key := tenant + "\x00" + cfg.Entity.Name
	if s.ensured.has(key) {
		return nil
	}
	if err := s.migrator.Ensure(ctx, cfg, tenant); err != nil {
		return err
	}
	s.ensured.mark(key)
	return nil
}

func (s *Service) fetchByID(ctx context.Context, cfg *schema.EntityConfiguration, tenant string, id any, restriction *ConditionGroup) (map[string]any, error) {
	qr := s.builder.BuildSelect(Query{
		Tenant: tenant,
		Table:  cfg.Entity.TableName,
		Conditions: []schema.Condition{
			{Field: cfg.IDColumn(), Operator: schema.OpEq, Value: id},
		},
		Restriction: restriction,
		Limit:       1,
	})
	rows, err := store.QueryRows(ctx, s.querier(), qr.SQL, qr.Params...)
	if err != nil {
		return nil, &DatabaseError{Op: "fetch", Entity: cfg.Entity.Name, Tenant: tenant, Err: err}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	s.normalize(cfg, rows[:1])
	return rows[0], nil
}

func (s *Service) normalize(cfg *schema.EntityConfiguration, rows []map[string]any) {
	if s.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, cfg.BoolFieldNames())
	}
}

func (s *Service) fireTriggers(ctx context.Context, cfg *schema.EntityConfiguration, tenant, event string, record, old map[string]any) {
	matches := EvaluateTriggers(s.evaluator, cfg, tenant, event, record, old)
	for _, m := range matches {
		if err := s.dispatcher.Dispatch(ctx, m); err != nil {
			log.Printf("WARN workflow %s on %s.%s: %v", m.Workflow.Name, cfg.Entity.Name, event, err)
		}
	}
}

func (s *Service) recordAudit(cfg *schema.EntityConfiguration, tenant, action string, user *schema.UserContext, id any, start time.Time) {
	s.audit.Record(audit.Event{
		Tenant:   tenant,
		Entity:   cfg.Entity.Name,
		Action:   action,
		RecordID: fmt.Sprint(id),
		UserID:   userID(user),
		Status:   "ok",
		Duration: time.Since(start),
	})
}

func (s *Service) denied(cfg *schema.EntityConfiguration, user *schema.UserContext, action string) error {
	return &PermissionError{
		Entity: cfg.Entity.Name,
		Action: action,
		UserID: userID(user),
		Reason: "no permission grants " + action,
	}
}

func (s *Service) writeError(op string, cfg *schema.EntityConfiguration, tenant string, err error) error {
	err = s.store.Dialect.MapError(err)
	if errors.Is(err, store.ErrUniqueViolation) {
		return &ValidationError{Details: []FieldError{{
			Rule:    "unique",
			Message: "A record with the same unique value already exists",
		}}}
	}
	return &DatabaseError{Op: op, Entity: cfg.Entity.Name, Tenant: tenant, Err: err}
}

// validateFilters rejects filters and sorts over columns the entity does
// not define, before any SQL is produced. Dotted fields refer to join
// aliases and are left for the database to resolve.
func validateFilters(cfg *schema.EntityConfiguration, opts FindOptions) []FieldError {
	var errs []FieldError
	known := func(name string) bool {
		if strings.Contains(name, ".") {
			return true
		}
		if name == cfg.IDColumn() || cfg.HasField(name) {
			return true
		}
		for _, c := range schema.SystemColumns {
			if c == name {
				return true
			}
		}
		return false
	}
	for _, c := range opts.Conditions {
		if !c.Operator.Valid() && c.Operator != "" {
			errs = append(errs, FieldError{
				Field: c.Field, Rule: "operator",
				Message: fmt.Sprintf("Unknown operator %q", string(c.Operator)),
			})
		}
		if !known(c.Field) {
			errs = append(errs, FieldError{
				Field: c.Field, Rule: "unknown",
				Message: fmt.Sprintf("Unknown filter field %s", c.Field),
			})
		}
	}
	for _, srt := range opts.Sorts {
		if !known(srt.Field) {
			errs = append(errs, FieldError{
				Field: srt.Field, Rule: "unknown",
				Message: fmt.Sprintf("Unknown sort field %s", srt.Field),
			})
		}
	}
	for _, col := range opts.Columns {
		if !known(col) {
			errs = append(errs, FieldError{
				Field: col, Rule: "unknown",
				Message: fmt.Sprintf("Unknown column %s", col),
			})
		}
	}
	return errs
}

// generatableID reports whether the service may mint an id for a missing
// value: always for the synthetic id column, and for a single string
// primary key. Integer keys must come from the caller or the database.
func generatableID(cfg *schema.EntityConfiguration) bool {
	pks := cfg.PrimaryKeyFields()
	if len(pks) == 0 {
		return true
	}
	return len(pks) == 1 && pks[0].Type == "string"
}

func encodeJSONFields(cfg *schema.EntityConfiguration, record map[string]any) {
	for _, f := range cfg.ActiveFields() {
		switch f.Type {
		case "json", "array", "object":
		default:
			continue
		}
		v, ok := record[f.Name]
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case string, []byte:
			continue
		}
		if b, err := json.Marshal(v); err == nil {
			record[f.Name] = string(b)
		}
	}
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+6)
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func userID(user *schema.UserContext) string {
	if user == nil {
		return ""
	}
	return user.ID
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case []byte:
		var out int64
		fmt.Sscan(string(n), &out)
		return out
	case string:
		var out int64
		fmt.Sscan(n, &out)
		return out
	}
	return 0
}
