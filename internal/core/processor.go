package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"scoring-backend/internal/core/types"
	"scoring-backend/internal/messaging"
	"scoring-backend/internal/store"
	"scoring-backend/internal/trainer"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultStoreRetryDelay = 2 * time.Second
	maxStoreRetryDelay     = 30 * time.Second
)

type ProcessorOptions struct {
	WorkerId        string
	Queue           string
	Concurrency     int
	StoreRetryDelay time.Duration
}

// TaskProcessor consumes score tasks and drives their records from PENDING to
// DONE or ERROR. Any number of processors may share a queue and a store.
type TaskProcessor struct {
	store    store.Store
	receiver messaging.Receiver
	trainer  trainer.Trainer

	workerId        string
	queue           string
	concurrency     int
	storeRetryDelay time.Duration

	lifecycle sync.Mutex
	wg        sync.WaitGroup
	stop      chan struct{}
	stopOnce  sync.Once
}

func defaultWorkerId() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

func NewTaskProcessor(store store.Store, receiver messaging.Receiver, trainer trainer.Trainer, opts ProcessorOptions) *TaskProcessor {
	if opts.WorkerId == "" {
		opts.WorkerId = defaultWorkerId()
	}
	if opts.Queue == "" {
		opts.Queue = messaging.ScoreQueue
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.StoreRetryDelay <= 0 {
		opts.StoreRetryDelay = DefaultStoreRetryDelay
	}

	return &TaskProcessor{
		store:           store,
		receiver:        receiver,
		trainer:         trainer,
		workerId:        opts.WorkerId,
		queue:           opts.Queue,
		concurrency:     opts.Concurrency,
		storeRetryDelay: opts.StoreRetryDelay,
		stop:            make(chan struct{}),
	}
}

func (proc *TaskProcessor) WorkerId() string {
	return proc.workerId
}

// Start runs the consumer goroutines and blocks until the receiver is closed
// or Stop is called and every in-flight task has finished.
func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor", "worker_id", proc.workerId, "concurrency", proc.concurrency)

	// Consumers are only added before Stop begins waiting for them.
	proc.lifecycle.Lock()
	if proc.stopping() {
		proc.lifecycle.Unlock()
		return
	}
	proc.wg.Add(proc.concurrency)
	for i := 0; i < proc.concurrency; i++ {
		go func() {
			defer proc.wg.Done()
			proc.consume()
		}()
	}
	proc.lifecycle.Unlock()

	proc.wg.Wait()
}

func (proc *TaskProcessor) consume() {
	tasks := proc.receiver.Tasks()
	for {
		select {
		case <-proc.stop:
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			proc.ProcessTask(task)
		}
	}
}

// Stop stops taking new tasks, waits for in-flight tasks to be settled and
// then closes the receiver. Training that is already running is allowed to
// finish, and its ack still reaches the broker.
func (proc *TaskProcessor) Stop() {
	proc.stopOnce.Do(func() {
		slog.Info("stopping task processor", "worker_id", proc.workerId)
		proc.lifecycle.Lock()
		close(proc.stop)
		proc.lifecycle.Unlock()

		proc.wg.Wait()
		proc.receiver.Close()
	})
	proc.wg.Wait()
}

func (proc *TaskProcessor) stopping() bool {
	select {
	case <-proc.stop:
		return true
	default:
		return false
	}
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	if task.Type() != proc.queue {
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil { // reject unknown message type
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	var payload messaging.ScoreTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.RequestId == uuid.Nil {
		slog.Error("error unmarshalling score task", "error", err)
		if err := task.Reject(); err != nil { // Discard malformed message
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	// Shutdown does not cancel this context, a claimed record is always
	// driven to a terminal state.
	ctx := context.Background()

	settle, storeDown := proc.processScoreTask(ctx, payload.Descriptor(), task.Redelivered())
	if err := settle(task); err != nil {
		slog.Error("error settling message from queue", "request_id", payload.RequestId, "error", err)
	}

	if storeDown {
		proc.waitForStore(ctx)
	}
}

type settleFunc func(messaging.Task) error

func ack(t messaging.Task) error    { return t.Ack() }
func nack(t messaging.Task) error   { return t.Nack() }
func reject(t messaging.Task) error { return t.Reject() }

// processScoreTask runs one descriptor through claim, training and
// completion and reports how the message should be settled, and whether the
// store was unreachable when claiming.
func (proc *TaskProcessor) processScoreTask(ctx context.Context, d types.Descriptor, redelivered bool) (settleFunc, bool) {
	id := d.RequestId

	req, err := proc.store.Transition(ctx, id, types.StatusPending, types.StatusProcessing, store.Update{WorkerId: proc.workerId})
	if err != nil {
		switch {
		case store.IsStatusConflict(err):
			slog.Info("discarding duplicate delivery", "request_id", id, "status", req.Status, "owner", req.WorkerId, "redelivered", redelivered)
			return ack, false
		case errors.Is(err, store.ErrNotFound):
			slog.Error("received task for unknown request", "request_id", id)
			return reject, false
		default:
			slog.Error("error claiming request, returning task to queue", "request_id", id, "error", err)
			return nack, true
		}
	}

	if req.Input != d.Input {
		slog.Warn("task descriptor does not match stored input, using stored input", "request_id", id)
	}

	slog.Info("processing score task", "request_id", id, "approach", req.Input.Approach, "classifier", req.Input.Classifier, "train_size", req.Input.TrainSize)

	start := time.Now()
	status, output := types.StatusDone, (*types.Output)(nil)
	score, err := proc.trainer.Train(ctx, req.Input.Approach, req.Input.Classifier, req.Input.TrainSize)
	if err != nil {
		slog.Error("training failed", "request_id", id, "duration", time.Since(start), "error", err)
		status, output = types.StatusError, types.ErrorOutput(err.Error())
	} else {
		slog.Info("training completed", "request_id", id, "duration", time.Since(start), "score", score)
		output = types.ScoreOutput(score)
	}

	if err := proc.complete(ctx, id, status, output); err != nil {
		// The record stays PROCESSING and shows up in the stale listing.
		slog.Error("unable to record training result", "request_id", id, "status", status, "error", err)
		return nack, false
	}

	return ack, false
}

// complete writes the terminal state, retrying while the store is
// unreachable. Only this worker may move the record out of PROCESSING.
func (proc *TaskProcessor) complete(ctx context.Context, id uuid.UUID, status types.Status, output *types.Output) error {
	delay := proc.storeRetryDelay
	for attempt := 1; ; attempt++ {
		_, err := proc.store.Transition(ctx, id, types.StatusProcessing, status, store.Update{Output: output})
		if err == nil {
			return nil
		}
		if store.IsStatusConflict(err) || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidTransition) {
			return err
		}

		slog.Warn("error writing request result, retrying", "request_id", id, "attempt", attempt, "error", err)

		select {
		case <-time.After(delay):
		case <-proc.stop:
			return fmt.Errorf("processor stopped before result was written: %w", err)
		}
		delay = min(2*delay, maxStoreRetryDelay)
	}
}

// waitForStore blocks the calling consumer until the store answers a ping, so
// it stops taking new tasks while the store is down.
func (proc *TaskProcessor) waitForStore(ctx context.Context) {
	for !proc.stopping() {
		pingCtx, cancel := context.WithTimeout(ctx, proc.storeRetryDelay)
		err := proc.store.Ping(pingCtx)
		cancel()
		if err == nil {
			return
		}

		slog.Warn("store unreachable, pausing consumer", "worker_id", proc.workerId, "error", err)

		select {
		case <-time.After(proc.storeRetryDelay):
		case <-proc.stop:
		}
	}
}
