// Package socketio provides a component that keeps a Socket.IO client
// connection open and republishes incoming events on the bus.
package socketio

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/vk/cutlet/internal/config"
	"github.com/vk/cutlet/internal/ctxlog"
	"github.com/vk/cutlet/internal/event"
	"github.com/vk/cutlet/internal/registry"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// TypeName is the component type registered by this module.
const TypeName = "socketio"

// EventMessage is the bus event name of MessageEvent.
const EventMessage = "socketio.message"

const defaultTimeout = 10 * time.Second

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the socketio factory.
func (m *Module) Register(r *registry.Registry) error {
	return r.Register(TypeName, New)
}

// Settings are the attributes of a socketio section.
type Settings struct {
	URL                string            `cty:"url"`
	Namespace          *string           `cty:"namespace"`
	OnEvent            *string           `cty:"on_event"`
	EmitEvent          *string           `cty:"emit_event"`
	EmitData           map[string]string `cty:"emit_data"`
	Timeout            *string           `cty:"timeout"`
	InsecureSkipVerify *bool             `cty:"insecure_skip_verify"`
}

// MessageEvent carries a payload received for the configured on_event. It is
// scoped to the receiving entity.
type MessageEvent struct {
	ID    string
	Event string
	Data  []any
}

func (e *MessageEvent) EventName() string { return EventMessage }
func (e *MessageEvent) Owner() string     { return e.ID }

type params struct {
	baseURL   string
	path      string
	namespace string
	onEvent   string
	emitEvent string
	emitData  map[string]string
	timeout   time.Duration
	insecure  bool
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
	if u.Scheme == "" || u.Host == "" {
		return params{}, fmt.Errorf("%s: URL %q must be absolute", section.Path, s.URL)
	}

	p := params{
		baseURL:   fmt.Sprintf("%s://%s", u.Scheme, u.Host),
		path:      u.Path,
		namespace: "/",
		emitData:  s.EmitData,
		timeout:   defaultTimeout,
	}
	if s.Namespace != nil && *s.Namespace != "" {
		p.namespace = *s.Namespace
	}
	if s.OnEvent != nil {
		p.onEvent = *s.OnEvent
	}
	if s.EmitEvent != nil {
		p.emitEvent = *s.EmitEvent
	}
	if s.InsecureSkipVerify != nil {
		p.insecure = *s.InsecureSkipVerify
	}
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

// Client is a live socketio entity. It cannot be reloaded in place: any
// change reconnects through a fresh instance.
type Client struct {
	id  string
	bus *event.Bus
	p   params

	mu sync.Mutex
	io *socket.Socket
}

// New is the socketio factory.
func New(ctx context.Context, spec registry.Spec) (registry.Component, error) {
	p, err := parse(spec.Section)
	if err != nil {
		return nil, err
	}
	return &Client{id: spec.ID, bus: spec.Services.Bus, p: p}, nil
}

// Start connects and waits for the first connect or connect_error event,
// bounded by the configured timeout.
func (c *Client) Start(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx).With("entity", c.id, "url", c.p.baseURL, "namespace", c.p.namespace)
	if c.p.insecure {
		logger.Warn("Skipping TLS certificate verification.")
	}
	pubCtx := context.WithoutCancel(ctx)

	opts := socket.DefaultOptions()
	if c.p.path != "" {
		opts.SetPath(c.p.path)
	}
	if c.p.insecure {
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(c.p.baseURL, opts)
	io := manager.Socket(c.p.namespace, opts)

	connected := make(chan error, 1)
	signal := func(err error) {
		select {
		case connected <- err:
		default:
		}
	}

	io.On(types.EventName("connect"), func(...any) {
		logger.Info("Connected.", "sid", io.Id())
		signal(nil)
		c.emit(io, logger)
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		signal(connectError(errs))
	})
	io.On(types.EventName("disconnect"), func(reason ...any) {
		logger.Warn("Disconnected.", "reason", fmt.Sprint(reason...))
	})
	if c.p.onEvent != "" {
		io.On(types.EventName(c.p.onEvent), func(data ...any) {
			c.publish(pubCtx, data)
		})
	}

	logger.Debug("Connecting.")
	io.Connect()

	timeout := time.NewTimer(c.p.timeout)
	defer timeout.Stop()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return fmt.Errorf("cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-timeout.C:
		io.Disconnect()
		return fmt.Errorf("timed out after %s waiting for socket.io connection", c.p.timeout)
	}

	c.mu.Lock()
	c.io = io
	c.mu.Unlock()
	return nil
}

func connectError(errs []any) error {
	if len(errs) > 0 {
		if err, ok := errs[0].(error); ok {
			return err
		}
		return fmt.Errorf("%v", errs[0])
	}
	return errors.New("connect_error without details")
}

func (c *Client) emit(io *socket.Socket, logger *slog.Logger) {
	if c.p.emitEvent == "" {
		return
	}
	payload, _ := json.Marshal(c.p.emitData)
	logger.Info("Emitting event.", "event", c.p.emitEvent, "data", string(payload))
	io.Emit(c.p.emitEvent, c.p.emitData)
}

func (c *Client) publish(ctx context.Context, data []any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(ctx, &MessageEvent{ID: c.id, Event: c.p.onEvent, Data: data})
}

// Stop disconnects the client.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	io := c.io
	c.io = nil
	c.mu.Unlock()

	if io != nil {
		ctxlog.FromContext(ctx).Debug("Disconnecting socket client.", "entity", c.id, "sid", io.Id())
		io.Disconnect()
	}
	return nil
}
