package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/citabot/citabot/internal/tenants"
	"github.com/citabot/citabot/pkg/logging"
)

// ErrDispatcherClosed indicates the dispatcher is no longer accepting work.
var ErrDispatcherClosed = errors.New("dialog: dispatcher closed")

// Handler processes one decoded turn. *Engine satisfies it.
type Handler interface {
	HandleInbound(ctx context.Context, msg InboundMessage) string
}

// TenantLoader re-resolves the tenant for a dequeued job.
type TenantLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*tenants.Tenant, error)
}

const (
	defaultWorkers     = 2
	defaultReceiveWait = 2 // seconds
	defaultReceiveMax  = 5 // messages
	maxReceiveWait     = 20
	maxReceiveBatch    = 10
)

type dispatcherConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*dispatcherConfig)

// WithWorkerCount overrides the number of queue polling goroutines.
func WithWorkerCount(workers int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if workers > 0 {
			cfg.workers = workers
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait for ReceiveMessage calls.
func WithReceiveWaitSeconds(seconds int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxReceiveWait {
			seconds = maxReceiveWait
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize overrides how many messages each poll may return.
func WithReceiveBatchSize(size int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatch {
			size = maxReceiveBatch
		}
		cfg.receiveBatchSize = size
	}
}

// Dispatcher routes conversation turns through a queue before the engine
// processes them. The webhook handler blocks on the result, so the queue
// can sit on LocalStack in development and real SQS in production without
// the HTTP layer noticing.
type Dispatcher struct {
	handler Handler
	loader  TenantLoader
	queue   Queue
	logger  *logging.Logger

	cfg dispatcherConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pending sync.Map // job id -> chan string
}

// NewDispatcher starts the worker pool immediately.
func NewDispatcher(handler Handler, loader TenantLoader, queue Queue, logger *logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if handler == nil {
		panic("dialog: handler cannot be nil")
	}
	if loader == nil {
		panic("dialog: tenant loader cannot be nil")
	}
	if queue == nil {
		panic("dialog: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := dispatcherConfig{
		workers:          defaultWorkers,
		receiveWaitSecs:  defaultReceiveWait,
		receiveBatchSize: defaultReceiveMax,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		handler: handler,
		loader:  loader,
		queue:   queue,
		logger:  logger,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < cfg.workers; i++ {
		d.wg.Add(1)
		go d.runWorker(i + 1)
	}
	return d
}

// Dispatch enqueues a turn and blocks until a worker has processed it,
// returning the reply text.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID uuid.UUID, userID, body, providerSID string) (string, error) {
	payload := jobPayload{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		UserID:      userID,
		Body:        body,
		ProviderSID: providerSID,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("dialog: encode job: %w", err)
	}

	resultCh := make(chan string, 1)
	d.pending.Store(payload.ID, resultCh)
	defer d.pending.Delete(payload.ID)

	if err := d.queue.Send(ctx, string(encoded)); err != nil {
		return "", fmt.Errorf("dialog: enqueue job: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-d.ctx.Done():
		return "", ErrDispatcherClosed
	case reply := <-resultCh:
		return reply, nil
	}
}

// Shutdown stops the workers and releases any blocked callers.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	d.pending.Range(func(key, _ any) bool {
		d.pending.Delete(key)
		return true
	})
	return nil
}

func (d *Dispatcher) runWorker(workerID int) {
	defer d.wg.Done()
	d.logger.Debug("dialog dispatcher worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Debug("dialog dispatcher worker stopping", "worker_id", workerID)
			return
		default:
		}

		msgs, err := d.queue.Receive(d.ctx, d.cfg.receiveBatchSize, d.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.logger.Error("failed to receive dialog jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range msgs {
			d.handleQueueMessage(msg)
		}
	}
}

func (d *Dispatcher) handleQueueMessage(msg queueMessage) {
	defer func() {
		deleteCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.queue.Delete(deleteCtx, msg.ReceiptHandle); err != nil {
			d.logger.Error("failed to delete dialog job", "error", err)
		}
	}()

	var payload jobPayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		d.logger.Error("failed to decode dialog job", "error", err)
		return
	}

	tenant, err := d.loader.GetByID(d.ctx, payload.TenantID)
	if err != nil {
		d.logger.Error("failed to load tenant for dialog job",
			"tenant_id", payload.TenantID, "error", err)
		d.deliverResult(payload.ID, NewResponseCatalog(nil).MustRender(KindError))
		return
	}

	reply := d.handler.HandleInbound(d.ctx, InboundMessage{
		Tenant:      tenant,
		UserID:      payload.UserID,
		Body:        payload.Body,
		ProviderSID: payload.ProviderSID,
	})
	d.deliverResult(payload.ID, reply)
}

func (d *Dispatcher) deliverResult(jobID, reply string) {
	value, ok := d.pending.Load(jobID)
	if !ok {
		d.logger.Debug("no waiting caller for dialog job", "job_id", jobID)
		return
	}
	ch, ok := value.(chan string)
	if !ok {
		d.logger.Error("dialog dispatcher pending map corrupted", "job_id", jobID)
		d.pending.Delete(jobID)
		return
	}
	select {
	case ch <- reply:
	default:
	}
}
