// Package webhook provides a component that posts every lifecycle
// transition as JSON to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/vk/cutlet/internal/config"
	"github.com/vk/cutlet/internal/ctxlog"
	"github.com/vk/cutlet/internal/event"
	"github.com/vk/cutlet/internal/lifecycle"
	"github.com/vk/cutlet/internal/registry"
)

// TypeName is the component type registered by this module.
const TypeName = "webhook"

const (
	defaultTimeout = 5 * time.Second
	queueSize      = 256
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the webhook factory.
func (m *Module) Register(r *registry.Registry) error {
	return r.Register(TypeName, New)
}

// Settings are the attributes of a webhook section.
type Settings struct {
	URL     string  `cty:"url"`
	Timeout *string `cty:"timeout"`
}

// Payload is the JSON body posted for each transition.
type Payload struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	From      lifecycle.State `json:"from"`
	To        lifecycle.State `json:"to"`
	Error     string          `json:"error,omitempty"`
	Cycle     string          `json:"cycle,omitempty"`
	Hook      string          `json:"hook,omitempty"`
	ElapsedMS int64           `json:"elapsed_ms,omitempty"`
	Time      time.Time       `json:"time"`
}

type params struct {
	url     string
	timeout time.Duration
}

func parse(section *config.Section) (params, error) {
	var s Settings
	if err := section.Decode(&s); err != nil {
		return params{}, err
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return params{}, fmt.Errorf("%s: failed to parse URL: %w", section.Path, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return params{}, fmt.Errorf("%s: URL %q must use http or https", section.Path, s.URL)
	}
	p := params{url: s.URL, timeout: defaultTimeout}
	if s.Timeout != nil {
		d, err := time.ParseDuration(*s.Timeout)
		if err != nil {
			return params{}, fmt.Errorf("%s: invalid timeout: %w", section.Path, err)
		}
		if d <= 0 {
			return params{}, fmt.Errorf("%s: timeout must be positive, got %s", section.Path, d)
		}
		p.timeout = d
	}
	return p, nil
}

func newClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Webhook is a live webhook entity.
type Webhook struct {
	id  string
	bus *event.Bus

	mu     sync.Mutex
	p      params
	client *http.Client

	queue  chan Payload
	sub    event.Subscription
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// New is the webhook factory.
func New(ctx context.Context, spec registry.Spec) (registry.Component, error) {
	if spec.Services.Bus == nil {
		return nil, errors.New("webhook requires the event bus")
	}
	p, err := parse(spec.Section)
	if err != nil {
		return nil, err
	}
	return &Webhook{id: spec.ID, bus: spec.Services.Bus, p: p}, nil
}

// Start subscribes to transitions of every entity and launches the sender.
func (w *Webhook) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.logger = ctxlog.FromContext(ctx).With("entity", w.id)
	w.client = newClient(w.p.timeout)
	w.queue = make(chan Payload, queueSize)
	w.done = make(chan struct{})

	sendCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	go w.send(sendCtx, w.queue, w.done)

	w.sub = w.bus.Subscribe(lifecycle.EventTransition, event.Listener{
		Owner:        w.id,
		Priority:     event.Monitor,
		IgnoreFilter: true,
		Handler:      event.Typed(w.enqueue),
	})
	return nil
}

// enqueue runs on the publisher's goroutine and never blocks it.
func (w *Webhook) enqueue(ctx context.Context, ev *lifecycle.TransitionEvent) {
	p := Payload{
		ID:        ev.ID,
		Type:      ev.Type,
		From:      ev.From,
		To:        ev.To,
		Cycle:     ev.Cycle,
		Hook:      ev.Hook,
		ElapsedMS: ev.Elapsed.Milliseconds(),
		Time:      time.Now().UTC(),
	}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
	}

	w.mu.Lock()
	queue, logger := w.queue, w.logger
	w.mu.Unlock()
	if queue == nil {
		return
	}
	select {
	case queue <- p:
	default:
		logger.Warn("Webhook queue full, dropping transition.", "about", ev.ID, "to", ev.To)
	}
}

func (w *Webhook) send(ctx context.Context, queue <-chan Payload, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-queue:
			if err := w.post(ctx, p); err != nil {
				w.mu.Lock()
				logger := w.logger
				w.mu.Unlock()
				logger.Warn("Failed to post webhook.", "about", p.ID, "to", p.To, "error", err)
			}
		}
	}
}

func (w *Webhook) post(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	w.mu.Lock()
	target, client := w.p.url, w.client
	w.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// Reload switches the endpoint and timeout. Queued transitions are posted to
// the new endpoint.
func (w *Webhook) Reload(ctx context.Context, section *config.Section) error {
	p, err := parse(section)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if p.timeout != w.p.timeout && w.client != nil {
		w.client.CloseIdleConnections()
		w.client = newClient(p.timeout)
	}
	w.p = p
	return nil
}

// Stop unsubscribes and waits for the sender to exit. Transitions still
// queued are dropped.
func (w *Webhook) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done, client := w.cancel, w.done, w.client
	w.bus.Unsubscribe(w.sub)
	w.queue = nil
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("webhook sender did not exit: %w", ctx.Err())
	}
	client.CloseIdleConnections()
	return nil
}
