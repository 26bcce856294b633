package pool

import (
	"time"

	"github.com/google/uuid"

	"github.com/Zeeeepa/browserqa/internal/types"
)

// Context is a logical browser tab/page handle minted by the remote
// browser server and tracked by the pool. Only the pool mutates State,
// under the pool's lock, per the invariant that every context is in
// exactly one state.
type Context struct {
	ID         uuid.UUID
	State      types.ContextState
	CreatedAt  time.Time
	LastUsedAt time.Time
	UseCount   int
	ServiceTag string
	Metadata   map[string]interface{}
}

func newContext(id uuid.UUID, serviceTag string) *Context {
	now := time.Now()
	return &Context{
		ID:         id,
		State:      types.ContextAvailable,
		CreatedAt:  now,
		LastUsedAt: now,
		ServiceTag: serviceTag,
		Metadata:   make(map[string]interface{}),
	}
}

func (c *Context) age(now time.Time) time.Duration {
	return now.Sub(c.CreatedAt)
}

func (c *Context) idle(now time.Time) time.Duration {
	return now.Sub(c.LastUsedAt)
}
