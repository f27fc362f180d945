// Package delivery pushes routed messages to agent HTTP endpoints through a
// bounded worker pool. Submission never blocks the router; outcomes surface
// only in logs.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/message"
)

// ErrQueueFull is returned when the bounded delivery queue cannot accept
// another task.
var ErrQueueFull = errors.New("delivery queue full")

// ErrStopped is returned when Submit is called after Stop.
var ErrStopped = errors.New("delivery pool stopped")

type task struct {
	endpoint string
	payload  message.Outbound
}

// Pool is a fixed-size worker pool delivering messages to agent endpoints.
type Pool struct {
	cfg    config.DeliveryConfig
	client *http.Client
	queue  chan task
	logger *zap.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewPool creates a delivery Pool. Workers start on Start.
//
// Precondition: cfg must be validated; logger must be non-nil.
func NewPool(cfg config.DeliveryConfig, logger *zap.Logger) *Pool {
	return &Pool{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		queue:  make(chan task, cfg.QueueSize),
		logger: logger,
	}
}

// Start launches the worker goroutines. It blocks until Stop is called.
//
// Postcondition: All queued tasks submitted before Stop are attempted.
func (p *Pool) Start() error {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.wg.Wait()
	return nil
}

// Stop closes the queue and waits for in-flight deliveries to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit enqueues one delivery. It never blocks: a full queue returns
// ErrQueueFull and the caller logs and moves on.
//
// Postcondition: On nil return the task will be attempted exactly once.
func (p *Pool) Submit(endpoint string, payload message.Outbound) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- task{endpoint: endpoint, payload: payload}:
		return nil
	default:
		return fmt.Errorf("%w: dropping delivery to %s", ErrQueueFull, endpoint)
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		start := time.Now()
		if err := p.deliver(t); err != nil {
			p.logger.Warn("agent delivery failed",
				zap.String("endpoint", t.endpoint),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			continue
		}
		p.logger.Debug("agent delivery succeeded",
			zap.String("endpoint", t.endpoint),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (p *Pool) deliver(t task) error {
	body, err := json.Marshal(t.payload)
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}
