// Package burst wires the UDP burst listener to result storage and exposes
// both over the HTTP API.
package burst

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zsiec/udpburst/internal/burst/receiver"
	"github.com/zsiec/udpburst/internal/burst/results"
	"github.com/zsiec/udpburst/internal/config"
	"github.com/zsiec/udpburst/internal/logger"
)

// Manager owns the listener and the result pipeline behind it.
type Manager struct {
	config    *config.BurstConfig
	results   *config.ResultsConfig
	listener  *receiver.Listener
	publisher *results.Publisher
	store     results.Store
	logger    logger.Logger

	mu        sync.Mutex
	started   bool
	startedAt time.Time
}

// NewStore builds the result store selected by cfg.Backend. client is
// required for the redis backend and ignored otherwise.
func NewStore(cfg *config.ResultsConfig, client *redis.Client) (results.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return results.NewMemoryStore(cfg.Capacity), nil
	case "redis":
		if client == nil {
			return nil, errors.New("redis result backend requires a redis client")
		}
		return results.NewRedisStore(client, cfg.KeyPrefix, cfg.TTL, cfg.Capacity), nil
	default:
		return nil, fmt.Errorf("unknown result backend %q", cfg.Backend)
	}
}

func NewManager(cfg *config.BurstConfig, resultsCfg *config.ResultsConfig, store results.Store, log logger.Logger) *Manager {
	log = logger.WithComponent(log, "burst_manager")
	publisher := results.NewPublisher(store, resultsCfg.QueueSize, log)

	return &Manager{
		config:    cfg,
		results:   resultsCfg,
		listener:  receiver.NewListener(cfg, publisher, log),
		publisher: publisher,
		store:     store,
		logger:    log,
	}
}

// Start launches the result publisher and binds the UDP socket.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.New("burst manager already started")
	}

	m.publisher.Start()
	if err := m.listener.Start(); err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.publisher.Stop(ctx)
		return fmt.Errorf("failed to start burst listener: %w", err)
	}

	m.started = true
	m.startedAt = time.Now()
	m.logger.WithFields(map[string]interface{}{
		"address": m.listener.Addr().String(),
		"results": m.store.Name(),
	}).Info("Burst manager started")
	return nil
}

// Stop closes the socket first so no new results are produced, then
// flushes queued results to the store within ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	var errs []error
	if err := m.listener.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop listener: %w", err))
	}
	if err := m.publisher.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush results: %w", err))
	}
	if err := m.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close result store: %w", err))
	}

	m.started = false
	m.logger.Info("Burst manager stopped")
	return errors.Join(errs...)
}

func (m *Manager) Listener() *receiver.Listener   { return m.listener }
func (m *Manager) Publisher() *results.Publisher { return m.publisher }
func (m *Manager) Store() results.Store          { return m.store }

// Uptime is the time since Start, or zero when stopped.
func (m *Manager) Uptime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return 0
	}
	return time.Since(m.startedAt)
}
