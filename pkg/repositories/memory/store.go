// Package memory is an in-process implementation of the repositories with the
// same constraint and transaction semantics as the PostgreSQL store. Service
// and handler tests run against it.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/models"
	"github.com/healthsync/connector-engine/pkg/repositories"
)

type connectionRow struct {
	conn   models.Connection
	sealed string
}

type data struct {
	seq       int64
	order     map[uuid.UUID]int64
	workflows map[uuid.UUID]models.Workflow
	fields    map[uuid.UUID]models.WorkflowField
	mappings  map[uuid.UUID]models.FieldMapping
	configs   map[uuid.UUID]models.WorkflowConfiguration
	conns     map[uuid.UUID]connectionRow
}

func newData() *data {
	return &data{
		order:     make(map[uuid.UUID]int64),
		workflows: make(map[uuid.UUID]models.Workflow),
		fields:    make(map[uuid.UUID]models.WorkflowField),
		mappings:  make(map[uuid.UUID]models.FieldMapping),
		configs:   make(map[uuid.UUID]models.WorkflowConfiguration),
		conns:     make(map[uuid.UUID]connectionRow),
	}
}

func (d *data) clone() *data {
	c := &data{
		seq:       d.seq,
		order:     maps.Clone(d.order),
		workflows: maps.Clone(d.workflows),
		fields:    maps.Clone(d.fields),
		mappings:  make(map[uuid.UUID]models.FieldMapping, len(d.mappings)),
		configs:   make(map[uuid.UUID]models.WorkflowConfiguration, len(d.configs)),
		conns:     make(map[uuid.UUID]connectionRow, len(d.conns)),
	}
	for id, m := range d.mappings {
		m.Target = maps.Clone(m.Target)
		c.mappings[id] = m
	}
	for id, cfg := range d.configs {
		cfg.Configuration = maps.Clone(cfg.Configuration)
		c.configs[id] = cfg
	}
	for id, row := range d.conns {
		row.conn.Config = maps.Clone(row.conn.Config)
		c.conns[id] = row
	}
	return c
}

func (d *data) stamp(id uuid.UUID) {
	d.seq++
	d.order[id] = d.seq
}

// sortByOrder sorts ids by insertion order.
func (d *data) sortByOrder(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return d.order[ids[i]] < d.order[ids[j]] })
}

// Store is an in-memory repositories.Transactor. Transactions are serialized:
// InTx works on a private copy of the data that replaces the shared copy only
// when fn succeeds.
type Store struct {
	mu       sync.Mutex
	data     *data
	failures map[string]error
	txCount  int
}

var _ repositories.Transactor = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: newData(), failures: make(map[string]error)}
}

// FailNext makes the next call of op fail with err. Ops are named
// "<repository>.<method>", e.g. "mappings.Create".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// Transactions returns how many units of work were started.
func (s *Store) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

func (s *Store) Repos() *repositories.Repos {
	return s.bind(&view{store: s})
}

func (s *Store) InTx(ctx context.Context, fn func(repos *repositories.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(s.bind(&view{store: s, tx: work})); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) bind(v *view) *repositories.Repos {
	return &repositories.Repos{
		Workflows:      &workflows{v},
		Fields:         &fields{v},
		Mappings:       &mappings{v},
		Configurations: &configurations{v},
		Connections:    &connections{v},
	}
}

// view routes a call either to the transaction's private copy, which the
// caller already holds the lock for, or to the shared data under the lock.
type view struct {
	store *Store
	tx    *data
}

func (v *view) do(op string, fn func(d *data) error) error {
	if v.tx != nil {
		if err := v.store.takeFailure(op); err != nil {
			return err
		}
		return fn(v.tx)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	if err := v.store.takeFailure(op); err != nil {
		return err
	}
	return fn(v.store.data)
}

// takeFailure must be called with the lock held.
func (s *Store) takeFailure(op string) error {
	err, ok := s.failures[op]
	if !ok {
		return nil
	}
	delete(s.failures, op)
	return err
}

func now() time.Time {
	return time.Now().UTC()
}

// Workflows

type workflows struct{ v *view }

func (r *workflows) Create(_ context.Context, w *models.Workflow) error {
	return r.v.do("workflows.Create", func(d *data) error {
		if w.ID == uuid.Nil {
			w.ID = uuid.New()
		}
		if _, ok := d.workflows[w.ID]; ok {
			return apperrors.Conflict("workflow %s already exists", w.ID)
		}
		w.CreatedAt = now()
		d.workflows[w.ID] = *w
		d.stamp(w.ID)
		return nil
	})
}

func (r *workflows) Get(_ context.Context, id uuid.UUID) (*models.Workflow, error) {
	var out *models.Workflow
	err := r.v.do("workflows.Get", func(d *data) error {
		w, ok := d.workflows[id]
		if !ok {
			return apperrors.NotFound("Workflow", id.String())
		}
		out = &w
		return nil
	})
	return out, err
}

func (r *workflows) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := r.v.do("workflows.Exists", func(d *data) error {
		_, ok = d.workflows[id]
		return nil
	})
	return ok, err
}

// Fields

type fields struct{ v *view }

func sortFields(out []*models.WorkflowField) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].FieldName < out[j].FieldName
	})
}

func (r *fields) ListByWorkflow(_ context.Context, workflowID uuid.UUID) ([]*models.WorkflowField, error) {
	out := make([]*models.WorkflowField, 0)
	err := r.v.do("fields.ListByWorkflow", func(d *data) error {
		for _, f := range d.fields {
			if f.WorkflowID == workflowID {
				out = append(out, &f)
			}
		}
		return nil
	})
	sortFields(out)
	return out, err
}

func (r *fields) FindByIDs(_ context.Context, workflowID uuid.UUID, ids []uuid.UUID) ([]*models.WorkflowField, error) {
	out := make([]*models.WorkflowField, 0, len(ids))
	err := r.v.do("fields.FindByIDs", func(d *data) error {
		seen := make(map[uuid.UUID]bool, len(ids))
		for _, id := range ids {
			f, ok := d.fields[id]
			if !ok || f.WorkflowID != workflowID || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, &f)
		}
		return nil
	})
	sortFields(out)
	return out, err
}

func duplicateFieldName(d *data, f *models.WorkflowField) bool {
	for id, other := range d.fields {
		if id != f.ID && other.WorkflowID == f.WorkflowID && other.FieldName == f.FieldName {
			return true
		}
	}
	return false
}

func (r *fields) Create(_ context.Context, f *models.WorkflowField) error {
	return r.v.do("fields.Create", func(d *data) error {
		if _, ok := d.workflows[f.WorkflowID]; !ok {
			return apperrors.NotFound("Workflow", f.WorkflowID.String())
		}
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		if duplicateFieldName(d, f) {
			return apperrors.Conflict("a field named %q already exists in this workflow", f.FieldName)
		}
		f.CreatedAt = now()
		f.UpdatedAt = f.CreatedAt
		d.fields[f.ID] = *f
		d.stamp(f.ID)
		return nil
	})
}

func (r *fields) Update(_ context.Context, f *models.WorkflowField) error {
	return r.v.do("fields.Update", func(d *data) error {
		existing, ok := d.fields[f.ID]
		if !ok || existing.WorkflowID != f.WorkflowID {
			return apperrors.NotFound("Field", f.ID.String())
		}
		if duplicateFieldName(d, f) {
			return apperrors.Conflict("a field named %q already exists in this workflow", f.FieldName)
		}
		f.CreatedAt = existing.CreatedAt
		f.UpdatedAt = now()
		d.fields[f.ID] = *f
		return nil
	})
}

func (r *fields) Delete(_ context.Context, workflowID, id uuid.UUID) error {
	return r.v.do("fields.Delete", func(d *data) error {
		f, ok := d.fields[id]
		if !ok || f.WorkflowID != workflowID {
			return apperrors.NotFound("Field", id.String())
		}
		delete(d.fields, id)
		for mid, m := range d.mappings {
			if m.WorkflowFieldID == id {
				delete(d.mappings, mid)
			}
		}
		return nil
	})
}

// Mappings

type mappings struct{ v *view }

func (r *mappings) ListByWorkflow(_ context.Context, workflowID uuid.UUID) ([]*models.FieldMapping, error) {
	out := make([]*models.FieldMapping, 0)
	err := r.v.do("mappings.ListByWorkflow", func(d *data) error {
		ids := make([]uuid.UUID, 0)
		for id, m := range d.mappings {
			if m.WorkflowID == workflowID {
				ids = append(ids, id)
			}
		}
		d.sortByOrder(ids)
		for _, id := range ids {
			m := d.mappings[id]
			m.Target = maps.Clone(m.Target)
			out = append(out, &m)
		}
		return nil
	})
	return out, err
}

func (r *mappings) FindByKey(_ context.Context, workflowID, fieldID uuid.UUID, targetType models.ConnectorType) (*models.FieldMapping, error) {
	var out *models.FieldMapping
	err := r.v.do("mappings.FindByKey", func(d *data) error {
		for _, m := range d.mappings {
			if m.WorkflowID == workflowID && m.WorkflowFieldID == fieldID && m.TargetType == targetType {
				m.Target = maps.Clone(m.Target)
				out = &m
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r *mappings) Create(_ context.Context, m *models.FieldMapping) error {
	return r.v.do("mappings.Create", func(d *data) error {
		f, ok := d.fields[m.WorkflowFieldID]
		if !ok || f.WorkflowID != m.WorkflowID {
			return apperrors.NotFound("Field", m.WorkflowFieldID.String())
		}
		for _, other := range d.mappings {
			if other.WorkflowID == m.WorkflowID && other.WorkflowFieldID == m.WorkflowFieldID && other.TargetType == m.TargetType {
				return apperrors.Conflict("a %s mapping for field %s was saved concurrently", m.TargetType, m.WorkflowFieldID)
			}
		}
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.CreatedAt = now()
		m.UpdatedAt = m.CreatedAt
		stored := *m
		stored.Target = maps.Clone(m.Target)
		d.mappings[m.ID] = stored
		d.stamp(m.ID)
		return nil
	})
}

func (r *mappings) UpdateTarget(_ context.Context, m *models.FieldMapping) error {
	return r.v.do("mappings.UpdateTarget", func(d *data) error {
		existing, ok := d.mappings[m.ID]
		if !ok {
			return apperrors.NotFound("FieldMapping", m.ID.String())
		}
		existing.Target = maps.Clone(m.Target)
		existing.UpdatedAt = now()
		d.mappings[m.ID] = existing
		m.CreatedAt, m.UpdatedAt = existing.CreatedAt, existing.UpdatedAt
		return nil
	})
}

func (r *mappings) Delete(_ context.Context, workflowID, id uuid.UUID) error {
	return r.v.do("mappings.Delete", func(d *data) error {
		m, ok := d.mappings[id]
		if !ok || m.WorkflowID != workflowID {
			return apperrors.NotFound("FieldMapping", id.String())
		}
		delete(d.mappings, id)
		return nil
	})
}

// Configurations

type configurations struct{ v *view }

func (r *configurations) ListByWorkflow(_ context.Context, workflowID uuid.UUID) ([]*models.WorkflowConfiguration, error) {
	out := make([]*models.WorkflowConfiguration, 0)
	err := r.v.do("configurations.ListByWorkflow", func(d *data) error {
		ids := make([]uuid.UUID, 0)
		for id, c := range d.configs {
			if c.WorkflowID == workflowID {
				ids = append(ids, id)
			}
		}
		d.sortByOrder(ids)
		for _, id := range ids {
			c := d.configs[id]
			c.Configuration = maps.Clone(c.Configuration)
			out = append(out, &c)
		}
		return nil
	})
	return out, err
}

func (r *configurations) Get(_ context.Context, id uuid.UUID) (*models.WorkflowConfiguration, error) {
	var out *models.WorkflowConfiguration
	err := r.v.do("configurations.Get", func(d *data) error {
		c, ok := d.configs[id]
		if !ok {
			return apperrors.NotFound("WorkflowConfiguration", id.String())
		}
		c.Configuration = maps.Clone(c.Configuration)
		out = &c
		return nil
	})
	return out, err
}

func (r *configurations) FindByType(_ context.Context, workflowID uuid.UUID, t models.ConnectorType) (*models.WorkflowConfiguration, error) {
	var out *models.WorkflowConfiguration
	err := r.v.do("configurations.FindByType", func(d *data) error {
		for _, c := range d.configs {
			if c.WorkflowID == workflowID && c.Type == t {
				c.Configuration = maps.Clone(c.Configuration)
				out = &c
				return nil
			}
		}
		return nil
	})
	return out, err
}

func checkConfiguration(d *data, c *models.WorkflowConfiguration) error {
	if c.ExternalConnectionID != nil {
		if _, ok := d.conns[*c.ExternalConnectionID]; !ok {
			return apperrors.NotFound("Connection", c.ExternalConnectionID.String())
		}
	}
	for id, other := range d.configs {
		if id == c.ID {
			continue
		}
		if other.WorkflowID == c.WorkflowID && other.Type == c.Type {
			return apperrors.Conflict("workflow already has a %s configuration", c.Type)
		}
		if c.ExternalConnectionID != nil && other.ExternalConnectionID != nil && *other.ExternalConnectionID == *c.ExternalConnectionID {
			return apperrors.Conflict("connection is already used by another workflow configuration")
		}
	}
	return nil
}

func (r *configurations) Create(_ context.Context, c *models.WorkflowConfiguration) error {
	return r.v.do("configurations.Create", func(d *data) error {
		if _, ok := d.workflows[c.WorkflowID]; !ok {
			return apperrors.NotFound("Workflow", c.WorkflowID.String())
		}
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if err := checkConfiguration(d, c); err != nil {
			return err
		}
		c.CreatedAt = now()
		c.UpdatedAt = c.CreatedAt
		stored := *c
		stored.Configuration = maps.Clone(c.Configuration)
		d.configs[c.ID] = stored
		d.stamp(c.ID)
		return nil
	})
}

func (r *configurations) Update(_ context.Context, c *models.WorkflowConfiguration) error {
	return r.v.do("configurations.Update", func(d *data) error {
		existing, ok := d.configs[c.ID]
		if !ok {
			return apperrors.NotFound("WorkflowConfiguration", c.ID.String())
		}
		if err := checkConfiguration(d, c); err != nil {
			return err
		}
		existing.ExternalConnectionID = c.ExternalConnectionID
		existing.Configuration = maps.Clone(c.Configuration)
		existing.IsActive = c.IsActive
		existing.UpdatedAt = now()
		d.configs[c.ID] = existing
		c.CreatedAt, c.UpdatedAt = existing.CreatedAt, existing.UpdatedAt
		return nil
	})
}

func (r *configurations) Delete(_ context.Context, id uuid.UUID) error {
	return r.v.do("configurations.Delete", func(d *data) error {
		if _, ok := d.configs[id]; !ok {
			return apperrors.NotFound("WorkflowConfiguration", id.String())
		}
		delete(d.configs, id)
		return nil
	})
}

func (r *configurations) CountByConnection(_ context.Context, connectionID uuid.UUID) (int, error) {
	n := 0
	err := r.v.do("configurations.CountByConnection", func(d *data) error {
		for _, c := range d.configs {
			if c.ExternalConnectionID != nil && *c.ExternalConnectionID == connectionID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *configurations) CountActiveByConnection(_ context.Context, connectionID uuid.UUID) (int, error) {
	n := 0
	err := r.v.do("configurations.CountActiveByConnection", func(d *data) error {
		for _, c := range d.configs {
			if c.IsActive && c.ExternalConnectionID != nil && *c.ExternalConnectionID == connectionID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *configurations) DetachConnection(_ context.Context, connectionID uuid.UUID) error {
	return r.v.do("configurations.DetachConnection", func(d *data) error {
		for id, c := range d.configs {
			if !c.IsActive && c.ExternalConnectionID != nil && *c.ExternalConnectionID == connectionID {
				c.ExternalConnectionID = nil
				c.UpdatedAt = now()
				d.configs[id] = c
			}
		}
		return nil
	})
}

// Connections

type connections struct{ v *view }

func (r *connections) Create(_ context.Context, c *models.Connection, sealed string) error {
	return r.v.do("connections.Create", func(d *data) error {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if _, ok := d.conns[c.ID]; ok {
			return apperrors.Conflict("connection %s already exists", c.ID)
		}
		c.CreatedAt = now()
		c.UpdatedAt = c.CreatedAt
		stored := *c
		stored.Config = nil
		d.conns[c.ID] = connectionRow{conn: stored, sealed: sealed}
		d.stamp(c.ID)
		return nil
	})
}

func (r *connections) Get(_ context.Context, id uuid.UUID) (*models.Connection, string, error) {
	var (
		out    *models.Connection
		sealed string
	)
	err := r.v.do("connections.Get", func(d *data) error {
		row, ok := d.conns[id]
		if !ok {
			return apperrors.NotFound("Connection", id.String())
		}
		c := row.conn
		out, sealed = &c, row.sealed
		return nil
	})
	return out, sealed, err
}

func (r *connections) List(_ context.Context) ([]*models.Connection, []string, error) {
	conns := make([]*models.Connection, 0)
	sealed := make([]string, 0)
	err := r.v.do("connections.List", func(d *data) error {
		ids := make([]uuid.UUID, 0, len(d.conns))
		for id := range d.conns {
			ids = append(ids, id)
		}
		d.sortByOrder(ids)
		for i := len(ids) - 1; i >= 0; i-- {
			row := d.conns[ids[i]]
			c := row.conn
			conns = append(conns, &c)
			sealed = append(sealed, row.sealed)
		}
		return nil
	})
	return conns, sealed, err
}

func (r *connections) Update(_ context.Context, c *models.Connection, sealed string) error {
	return r.v.do("connections.Update", func(d *data) error {
		row, ok := d.conns[c.ID]
		if !ok {
			return apperrors.NotFound("Connection", c.ID.String())
		}
		row.conn.Name = c.Name
		row.conn.Type = c.Type
		row.conn.IsActive = c.IsActive
		row.conn.UpdatedAt = now()
		row.sealed = sealed
		d.conns[c.ID] = row
		c.UpdatedAt = row.conn.UpdatedAt
		return nil
	})
}

func (r *connections) RecordTestResult(_ context.Context, id uuid.UUID, result models.TestResult) error {
	return r.v.do("connections.RecordTestResult", func(d *data) error {
		row, ok := d.conns[id]
		if !ok {
			return apperrors.NotFound("Connection", id.String())
		}
		testedAt := result.TestedAt
		row.conn.LastTestedAt = &testedAt
		row.conn.LastTestResult = &result
		d.conns[id] = row
		return nil
	})
}

func (r *connections) Delete(_ context.Context, id uuid.UUID) error {
	return r.v.do("connections.Delete", func(d *data) error {
		if _, ok := d.conns[id]; !ok {
			return apperrors.NotFound("Connection", id.String())
		}
		for _, c := range d.configs {
			if c.ExternalConnectionID != nil && *c.ExternalConnectionID == id {
				return apperrors.Conflict("connection is still referenced by a workflow configuration")
			}
		}
		delete(d.conns, id)
		return nil
	})
}
