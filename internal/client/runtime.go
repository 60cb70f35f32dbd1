package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/rewards_auth/internal/config"
	"github.com/congo-pay/rewards_auth/internal/gateway"
	"github.com/congo-pay/rewards_auth/internal/infra"
	"github.com/congo-pay/rewards_auth/internal/logging"
	"github.com/congo-pay/rewards_auth/internal/phone"
	"github.com/congo-pay/rewards_auth/internal/registration"
	"github.com/congo-pay/rewards_auth/internal/session"
)

// Runtime is a process-wide client: one hydrated store, the HTTP gateway and
// the client built over them.
type Runtime struct {
	*Client

	gw     *gateway.HTTPClient
	cache  *redis.Client
	phones *phone.Validator
	tick   time.Duration
	logger *slog.Logger
}

// Open builds the gateway and hydrates the session store. The session record
// lives in Redis when RedisURL is set and in memory otherwise.
func Open(ctx context.Context, cfg config.Client, logger *slog.Logger, opts ...session.Option) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{
		gw:     gateway.NewHTTPClient(cfg.GatewayURL, cfg.GatewayTimeout),
		phones: phone.NewValidator(cfg.CountryCode),
		tick:   cfg.CountdownTick,
		logger: logger,
	}

	var persister session.Persister = session.NewMemoryPersister()
	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rt.cache = cache
		persister = session.NewRedisPersister(cache, cfg.SessionKey)
	}

	opts = append([]session.Option{session.WithLogger(logging.Component(logger, "session"))}, opts...)
	store := session.New(persister, opts...)
	if err := store.Hydrate(ctx); err != nil {
		rt.closeCache()
		return nil, fmt.Errorf("hydrate session: %w", err)
	}
	rt.Client = New(rt.gw, store, rt.phones, logging.Component(logger, "client"))
	return rt, nil
}

// Registration starts a registration flow sharing this runtime's store.
func (r *Runtime) Registration(opts ...registration.Option) *registration.Flow {
	opts = append([]registration.Option{
		registration.WithTick(r.tick),
		registration.WithLogger(logging.Component(r.logger, "registration")),
	}, opts...)
	return registration.New(r.gw, r.store, r.phones, opts...)
}

// Close tears the store down and releases Redis. The persisted record is kept.
func (r *Runtime) Close() error {
	r.store.Teardown()
	return r.closeCache()
}

func (r *Runtime) closeCache() error {
	if r.cache == nil {
		return nil
	}
	err := r.cache.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}
