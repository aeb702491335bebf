package app

import (
	"context"
	"fmt"
	"strings"

	"convoy/cmd/identity"
	"convoy/cmd/internal/messaging"
	"convoy/cmd/internal/notify"
	"convoy/cmd/internal/ratelimit"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// wire builds storage, resolver, emitter and limiter, then the messaging
// service. Postgres backs everything when CONVOY_DATABASE_URL is set;
// otherwise stores are in-memory (dev only).
func (a *App) wire(ctx context.Context, reg prometheus.Registerer) error {
	var (
		idStore  identity.Store
		msgStore messaging.Store
	)

	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		mem := identity.NewInMemoryStore()
		if a.cfg.DevSeed {
			if err := seedDevAccounts(mem); err != nil {
				return err
			}
			a.log.Info("db.inmemory.seeded", "accounts", len(devAccounts))
		}
		idStore = mem
		msgStore = messaging.NewInMemoryStore()
	} else {
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return err
		}
		a.dbPool, a.dbEnabled = pool, true
		a.closers = append(a.closers, closerFunc(func() error { pool.Close(); return nil }))
		a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)

		ps, err := identity.NewPostgresStore(pool, identity.WithSchema(a.cfg.DBSchema))
		if err != nil {
			return err
		}
		ms, err := messaging.NewPostgresStore(pool, messaging.WithSchema(a.cfg.DBSchema))
		if err != nil {
			return err
		}
		idStore, msgStore = ps, ms
	}
	a.closers = append(a.closers, msgStore)

	resolver, err := identity.NewResolver(idStore)
	if err != nil {
		return err
	}
	emitter, err := a.newEmitter()
	if err != nil {
		return err
	}
	limiter, err := a.newLimiter()
	if err != nil {
		return err
	}

	a.svc, err = messaging.NewService(msgStore, messaging.NewIdentityResolver(resolver),
		messaging.WithLogger(a.log),
		messaging.WithEmitter(emitter),
		messaging.WithLimiter(limiter),
		messaging.WithMetrics(messaging.NewMetrics(reg)),
		messaging.WithNotifyTimeout(a.cfg.NotifyTimeout),
	)
	return err
}

func (a *App) newEmitter() (messaging.Emitter, error) {
	switch strings.ToLower(a.cfg.NotifyBackend) {
	case "", "log":
		return notify.NewLogEmitter(a.log), nil
	case "postgres":
		if a.dbPool == nil {
			return nil, fmt.Errorf("notify: postgres backend without database")
		}
		return notify.NewPostgresEmitter(a.dbPool, notify.WithSchema(a.cfg.DBSchema))
	case "kafka":
		e, err := notify.NewKafkaEmitter(notify.KafkaConfig{
			Brokers:      a.cfg.KafkaBrokers,
			Topic:        a.cfg.KafkaNotifyTopic,
			WriteTimeout: a.cfg.NotifyTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, e)
		return e, nil
	default:
		return nil, fmt.Errorf("notify: unknown backend %q", a.cfg.NotifyBackend)
	}
}

func (a *App) newLimiter() (messaging.Limiter, error) {
	if a.cfg.RedisAddr == "" {
		return ratelimit.NewMemory(a.cfg.SendRateLimit, a.cfg.SendRateWindow), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	a.closers = append(a.closers, client)
	return ratelimit.NewRedis(client, "convoy:send", a.cfg.SendRateLimit, a.cfg.SendRateWindow)
}

var devAccounts = []identity.Account{
	{ID: "acc-driver-demo", Role: identity.RoleDriver, DisplayName: "Jean Dupont", IsActive: true},
	{ID: "acc-employer-demo", Role: identity.RoleEmployer, DisplayName: "Transports Martin", IsActive: true},
}

func seedDevAccounts(st *identity.InMemoryStore) error {
	for _, acc := range devAccounts {
		if err := st.PutAccount(acc); err != nil {
			return err
		}
	}
	return st.PutProfile(identity.Profile{ID: "drv-demo", Kind: identity.ProfileDriver, AccountID: "acc-driver-demo"})
}
