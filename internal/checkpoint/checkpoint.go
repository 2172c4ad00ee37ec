// Package checkpoint persists and resumes case-graph run state (§4.2):
// one msgpack-encoded snapshot per thread_id ("case:<caseId>"), with an
// injected interrupt value for resuming a paused run from a human
// decision. There is no in-pack prior art for vmihailenco/msgpack/v5
// usage — the encode/decode shape here is built directly against the
// Checkpointer contract rather than adapted from an example call site.
package checkpoint

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/smilemakc/caseorch/internal/domain"
)

// ThreadID derives the checkpoint key a case's runs share.
func ThreadID(caseID string) string {
	return "case:" + caseID
}

// Checkpointer wraps a domain.CheckpointStore with the msgpack
// encode/decode step so callers in internal/casegraph and
// internal/supervisor only ever handle typed Go values.
type Checkpointer struct {
	store domain.CheckpointStore
}

func New(store domain.CheckpointStore) *Checkpointer {
	return &Checkpointer{store: store}
}

// Save serializes state and replaces the single checkpoint row for
// threadID. It does not touch any previously-set interrupt value.
func (c *Checkpointer) Save(ctx context.Context, threadID, nodeName string, id string, state interface{}) error {
	snapshot, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("checkpoint: encode snapshot: %w", err)
	}
	return c.store.SaveCheckpoint(ctx, &domain.Checkpoint{
		ID:       id,
		ThreadID: threadID,
		NodeName: nodeName,
		Snapshot: snapshot,
	})
}

// Loaded is the result of Load: whether a checkpoint exists, the last
// node that completed, and — if the run is paused awaiting a human
// decision — the injected resume value, if one has arrived. The
// decoded state itself goes into Load's out argument.
type Loaded struct {
	Found          bool
	NodeName       string
	InterruptValue []byte
}

// Load fetches the latest checkpoint for threadID and decodes its
// snapshot into out (a pointer to the caller's state type). Found is
// false if no checkpoint exists yet for this thread.
func (c *Checkpointer) Load(ctx context.Context, threadID string, out interface{}) (Loaded, error) {
	cp, err := c.store.GetLatestCheckpoint(ctx, threadID)
	if err != nil {
		return Loaded{}, fmt.Errorf("checkpoint: load: %w", err)
	}
	if cp == nil {
		return Loaded{Found: false}, nil
	}
	if err := msgpack.Unmarshal(cp.Snapshot, out); err != nil {
		return Loaded{}, fmt.Errorf("checkpoint: decode snapshot: %w", err)
	}
	return Loaded{Found: true, NodeName: cp.NodeName, InterruptValue: cp.InterruptValue}, nil
}

// Resume injects a value (typically a domain.HumanDecision) to be
// picked up by the next Load against threadID, and clears it once
// consumed by the caller via ClearInterrupt. The value is msgpack
// encoded so it round-trips through the same Checkpoint row as the
// snapshot.
func (c *Checkpointer) Resume(ctx context.Context, threadID string, injected interface{}) error {
	value, err := msgpack.Marshal(injected)
	if err != nil {
		return fmt.Errorf("checkpoint: encode interrupt value: %w", err)
	}
	return c.store.SetInterruptValue(ctx, threadID, value)
}

// ClearInterrupt removes a consumed interrupt value so a later Load
// against the same thread does not replay it.
func (c *Checkpointer) ClearInterrupt(ctx context.Context, threadID string) error {
	return c.store.SetInterruptValue(ctx, threadID, nil)
}

// DecodeInterrupt unmarshals a Loaded.InterruptValue into out. It is a
// caller convenience so internal/supervisor does not need to import
// msgpack directly.
func DecodeInterrupt(value []byte, out interface{}) error {
	if len(value) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(value, out); err != nil {
		return fmt.Errorf("checkpoint: decode interrupt value: %w", err)
	}
	return nil
}
