// Package sandbox is a local stand-in for a payment provider. Charges are
// accepted immediately and settled by a worker pool that posts the outcome to
// the callback endpoint after a short random delay.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	providerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/provider"
	"github.com/frahmantamala/spotpay-billing/internal/provider"
)

const ReferencePrefix = "SBX-"

type ChargeJob struct {
	Reference   string
	PaymentID   string
	Amount      string
	CallbackURL string
}

type Worker struct {
	ID         int
	WorkerPool chan chan ChargeJob
	JobChannel chan ChargeJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan ChargeJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan ChargeJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, settle func(ChargeJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("sandbox worker settling charge", "worker_id", w.ID, "reference", job.Reference)
				settle(job)
			case <-ctx.Done():
				w.Logger.Debug("sandbox worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type Config struct {
	CallbackURL string
	// CallbackSecret signs the simulated callbacks. A random one is used
	// when empty, which only this process can verify.
	CallbackSecret string
	SuccessRate    float64
	MaxDelay       time.Duration
	MaxWorkers     int
	JobQueueSize   int
	WorkerPoolSize int
}

// Client is a provider.Adapter backed by an in-process worker pool.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	jobQueue   chan ChargeJob
	workerPool chan chan ChargeJob
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.JobQueueSize <= 0 {
		cfg.JobQueueSize = 100
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = cfg.MaxWorkers
	}
	if cfg.SuccessRate < 0 || cfg.SuccessRate > 1 {
		cfg.SuccessRate = 0.9
	}
	if cfg.CallbackSecret == "" {
		cfg.CallbackSecret = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		jobQueue:   make(chan ChargeJob, cfg.JobQueueSize),
		workerPool: make(chan chan ChargeJob, cfg.WorkerPoolSize),
		ctx:        ctx,
		cancel:     cancel,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.start()
	return c
}

// Factory lets the provider registry hand out this client for SANDBOX rows.
func Factory(c *Client) provider.Factory {
	return func(*providerDatamodel.Provider, provider.Deps) (provider.Adapter, error) {
		return c, nil
	}
}

func (c *Client) start() {
	c.once.Do(func() {
		for i := 0; i < c.cfg.MaxWorkers; i++ {
			NewWorker(i, c.workerPool, c.logger).Start(c.ctx, &c.wg, c.settle)
		}

		c.wg.Add(1)
		go c.dispatch()

		c.logger.Info("sandbox provider worker pool started",
			"max_workers", c.cfg.MaxWorkers,
			"queue_size", cap(c.jobQueue))
	})
}

func (c *Client) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case job := <-c.jobQueue:
			select {
			case jobChannel := <-c.workerPool:
				select {
				case jobChannel <- job:
				case <-c.ctx.Done():
					return
				}
			case <-c.ctx.Done():
				return
			}
		case <-c.ctx.Done():
			c.logger.Info("sandbox dispatcher shutting down")
			return
		}
	}
}

func (c *Client) Shutdown() {
	c.cancel()
	c.wg.Wait()
	c.logger.Info("sandbox provider shutdown complete")
}

func (c *Client) Type() string {
	return providerDatamodel.TypeSandbox
}

func (c *Client) Charge(ctx context.Context, req provider.ChargeRequest) (string, error) {
	job := ChargeJob{
		Reference:   ReferencePrefix + uuid.NewString(),
		PaymentID:   req.PaymentID,
		Amount:      req.Amount.StringFixed(2),
		CallbackURL: req.CallbackURL,
	}
	if job.CallbackURL == "" {
		job.CallbackURL = c.cfg.CallbackURL
	}

	select {
	case c.jobQueue <- job:
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return "", fmt.Errorf("sandbox: charge queue full (%d)", cap(c.jobQueue))
	}

	c.logger.Info("sandbox charge accepted",
		"payment_id", req.PaymentID,
		"provider_reference", job.Reference,
		"queue_length", len(c.jobQueue))
	return job.Reference, nil
}

func (c *Client) VerifyCallback(header http.Header, body []byte) error {
	return provider.VerifySignature(c.cfg.CallbackSecret, header, provider.SignatureHeader, body)
}

func (c *Client) settle(job ChargeJob) {
	delay, succeed := c.roll()

	select {
	case <-time.After(delay):
	case <-c.ctx.Done():
		return
	}

	payload := map[string]interface{}{
		"reference":          job.Reference,
		"external_reference": job.PaymentID,
		"amount":             job.Amount,
		"transaction_id":     "TXN-" + uuid.NewString(),
	}
	if succeed {
		payload["status"] = "successful"
	} else {
		payload["status"] = "failed"
		payload["message"] = "Insufficient funds"
	}

	c.postCallback(job, payload)
}

func (c *Client) roll() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var delay time.Duration
	if c.cfg.MaxDelay > 0 {
		delay = time.Duration(c.rnd.Int63n(int64(c.cfg.MaxDelay)))
	}
	return delay, c.rnd.Float64() < c.cfg.SuccessRate
}

func (c *Client) postCallback(job ChargeJob, payload map[string]interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("sandbox: failed to marshal callback", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.CallbackURL, bytes.NewReader(body))
	if err != nil {
		c.logger.Error("sandbox: failed to build callback", "reference", job.Reference, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(provider.SignatureHeader, provider.Sign(c.cfg.CallbackSecret, body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("sandbox: callback delivery failed", "reference", job.Reference, "error", err)
		return
	}
	defer resp.Body.Close()

	c.logger.Info("sandbox: callback delivered",
		"reference", job.Reference,
		"status", payload["status"],
		"status_code", resp.StatusCode)
}
