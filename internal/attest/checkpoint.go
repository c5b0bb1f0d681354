package attest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/complyledger/complyledger/internal/auditlog"
	"github.com/complyledger/complyledger/internal/crypto"
	"github.com/complyledger/complyledger/internal/observability/logging"
)

const defaultCheckpointInterval = 30 * time.Second

// Checkpointer periodically signs the log root and writes the attestation
// as one JSON line to a sink. A tick is skipped when the log has not grown.
// Call Start once and Stop at shutdown; Stop writes a final checkpoint.
type Checkpointer struct {
	log      *auditlog.Log
	signer   crypto.Signer
	sink     io.Writer
	interval time.Duration
	logger   logging.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSize uint64
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type CheckpointOption func(*Checkpointer)

func WithInterval(d time.Duration) CheckpointOption {
	return func(c *Checkpointer) {
		if d > 0 {
			c.interval = d
		}
	}
}

func WithLogger(l logging.Logger) CheckpointOption {
	return func(c *Checkpointer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the issued_at source.
func WithClock(now func() time.Time) CheckpointOption {
	return func(c *Checkpointer) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCheckpointer(log *auditlog.Log, signer crypto.Signer, sink io.Writer, opts ...CheckpointOption) *Checkpointer {
	c := &Checkpointer{
		log:      log,
		signer:   signer,
		sink:     sink,
		interval: defaultCheckpointInterval,
		logger:   logging.From(context.Background()),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs the background loop.
func (c *Checkpointer) Start() {
	c.wg.Add(1)
	go c.loop()
}

// Stop ends the loop and waits for the final checkpoint.
func (c *Checkpointer) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Checkpointer) loop() {
	defer c.wg.Done()
	tick := time.NewTicker(c.interval)
	defer tick.Stop()

	flush := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, _, err := c.Flush(ctx); err != nil {
			c.logger.Error("checkpoint", "checkpoint failed", "error", err.Error())
		}
	}
	for {
		select {
		case <-c.done:
			flush()
			return
		case <-tick.C:
			flush()
		}
	}
}

// Flush writes a checkpoint now if the log grew since the last one. It
// reports whether a checkpoint was written.
func (c *Checkpointer) Flush(ctx context.Context) (Attestation, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Attestation{}, false, err
	}

	snap := c.log.Snapshot()
	size := snap.Size()
	if size == 0 || size == c.lastSize {
		return Attestation{}, false, nil
	}

	a, err := SignCheckpoint(c.signer, snap.Root, size, c.now().UTC().Format(time.RFC3339))
	if err != nil {
		return Attestation{}, false, err
	}
	line, err := json.Marshal(a)
	if err != nil {
		return Attestation{}, false, fmt.Errorf("encode checkpoint: %w", err)
	}
	if _, err := c.sink.Write(append(line, '\n')); err != nil {
		return Attestation{}, false, fmt.Errorf("write checkpoint: %w", err)
	}

	c.lastSize = size
	c.logger.Event(ctx, "audit.checkpoint", map[string]any{
		"tree_size": size,
		"root":      a.Root,
		"key_id":    a.KeyID,
	})
	return a, true, nil
}
