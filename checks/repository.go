package checks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/google/uuid"

	"github.com/amartya2002/uptime-monitor/internal/keylock"
	"github.com/amartya2002/uptime-monitor/store"
)

// LogRemover deletes the execution history kept for a check.
type LogRemover interface {
	Remove(id string) error
}

// Repository is the only write path to the checks collection. Writes to the
// same id are serialized so that the engine's outcome writes and external
// field edits never overwrite each other.
type Repository struct {
	store  store.Store
	schema Schema
	locks  *keylock.Locker
	logs   LogRemover
}

// NewRepository wraps s. logs may be nil when no history is kept.
func NewRepository(s store.Store, schema Schema, logs LogRemover) *Repository {
	return &Repository{
		store:  s,
		schema: schema,
		locks:  keylock.New(),
		logs:   logs,
	}
}

// IDs lists every stored check id.
func (r *Repository) IDs(ctx context.Context) ([]string, error) {
	return r.store.List(ctx, Collection)
}

// Get reads and validates one check.
func (r *Repository) Get(ctx context.Context, id string) (Check, error) {
	doc, err := r.store.Read(ctx, Collection, id)
	if err != nil {
		return Check{}, err
	}
	return r.schema.Parse(doc)
}

// Create stores a new check, assigning an id when none is given. The engine
// owned fields start out as state=down with no prior run.
func (r *Repository) Create(ctx context.Context, c Check) (Check, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.State = StateDown
	c.LastCheckedAt = nil
	if err := r.schema.Validate(c); err != nil {
		return Check{}, err
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return Check{}, fmt.Errorf("encode check %s: %w", c.ID, err)
	}

	unlock := r.locks.Lock(c.ID)
	defer unlock()
	if err := r.store.Create(ctx, Collection, c.ID, doc); err != nil {
		return Check{}, err
	}
	return c, nil
}

// Modify applies fn to the latest stored version of a check while holding the
// id's write lock, validates the result and writes it back. If fn returns an
// error nothing is written.
func (r *Repository) Modify(ctx context.Context, id string, fn func(c *Check) error) (Check, error) {
	return r.ModifyThen(ctx, id, fn, nil)
}

// ModifyThen is Modify followed by after, which runs before the id's lock is
// released and receives the result of the write. after is skipped when the
// check could not be read or fn failed. A Delete of the same id therefore
// happens either before the read or after the hook has returned.
func (r *Repository) ModifyThen(ctx context.Context, id string, fn func(c *Check) error, after func(updated Check, err error)) (Check, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	current, err := r.Get(ctx, id)
	if err != nil {
		return Check{}, err
	}
	next := current.clone()
	if err := fn(&next); err != nil {
		return Check{}, err
	}
	updated, err := r.write(ctx, id, next)
	if after != nil {
		after(updated, err)
	}
	return updated, err
}

func (r *Repository) write(ctx context.Context, id string, next Check) (Check, error) {
	if next.ID != id {
		return Check{}, fmt.Errorf("check %s: id cannot change", id)
	}
	if err := r.schema.Validate(next); err != nil {
		return Check{}, err
	}
	doc, err := json.Marshal(next)
	if err != nil {
		return Check{}, fmt.Errorf("encode check %s: %w", id, err)
	}
	if err := r.store.Update(ctx, Collection, id, doc); err != nil {
		return Check{}, err
	}
	return next, nil
}

// Delete removes the check and its active log.
func (r *Repository) Delete(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	if err := r.store.Delete(ctx, Collection, id); err != nil {
		return err
	}
	if r.logs == nil {
		return nil
	}
	if err := r.logs.Remove(id); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove log history for %s: %w", id, err)
	}
	return nil
}
