// Package app assembles the telehealth server from configuration: stores,
// services, the RPC router and listener, and the optional ops server.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/telehealth/internal/config"
	"github.com/ehr/telehealth/internal/domain/clinical"
	"github.com/ehr/telehealth/internal/domain/identity"
	"github.com/ehr/telehealth/internal/domain/medication"
	"github.com/ehr/telehealth/internal/domain/scheduling"
	"github.com/ehr/telehealth/internal/platform/db"
	"github.com/ehr/telehealth/internal/platform/events"
	"github.com/ehr/telehealth/internal/platform/ops"
	"github.com/ehr/telehealth/internal/platform/rpc"
	"github.com/ehr/telehealth/internal/platform/session"
)

const revocationSweep = time.Minute

// App owns every long-lived component of a running server.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool        *pgxpool.Pool
	publisher   events.Publisher
	revocations *session.RevocationStore

	Router *rpc.Router
	server *rpc.Server
	ops    *ops.Server
}

type options struct {
	publisher events.Publisher
	now       func() time.Time
}

type Option func(*options)

// WithPublisher overrides the publisher chosen from configuration.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithClock replaces time.Now in the services that stamp records.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

type stores struct {
	users         identity.Repository
	appointments  scheduling.AppointmentRepository
	periods       scheduling.UnavailabilityRepository
	locker        scheduling.Locker
	prescriptions medication.Repository
	vitals        clinical.VitalsRepository
	diagnoses     clinical.DiagnosisRepository
	referrals     clinical.ReferralRepository
}

func memoryStores() stores {
	return stores{
		users:         identity.NewUserRepoMem(),
		appointments:  scheduling.NewAppointmentRepoMem(),
		periods:       scheduling.NewUnavailabilityRepoMem(),
		locker:        scheduling.NewMemLocker(),
		prescriptions: medication.NewPrescriptionRepoMem(),
		vitals:        clinical.NewVitalsRepoMem(),
		diagnoses:     clinical.NewDiagnosisRepoMem(),
		referrals:     clinical.NewReferralRepoMem(),
	}
}

func postgresStores(pool *pgxpool.Pool) stores {
	return stores{
		users:         identity.NewUserRepoPG(pool),
		appointments:  scheduling.NewAppointmentRepoPG(pool),
		periods:       scheduling.NewUnavailabilityRepoPG(pool),
		locker:        db.NewLocker(pool),
		prescriptions: medication.NewPrescriptionRepoPG(pool),
		vitals:        clinical.NewVitalsRepoPG(pool),
		diagnoses:     clinical.NewDiagnosisRepoPG(pool),
		referrals:     clinical.NewReferralRepoPG(pool),
	}
}

// New builds the server without binding any port. cfg must already have
// passed Validate.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}

	var st stores
	switch cfg.Store {
	case config.StoreMemory:
		st = memoryStores()
		logger.Info().Msg("using in-memory store")
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
			Schema:   cfg.DBSchema,
		})
		if err != nil {
			return nil, err
		}
		a.pool = pool
		st = postgresStores(pool)
		logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	a.publisher = o.publisher
	if a.publisher == nil {
		a.publisher = newPublisher(cfg, logger)
	}
	emitter := events.NewEmitter(a.publisher, logger)

	identityOpts := []identity.Option{
		identity.WithEvents(emitter),
		identity.WithBcryptCost(cfg.BcryptCost),
	}
	var routerOpts []rpc.RouterOption
	if cfg.SessionsEnabled() {
		a.revocations = session.NewRevocationStore(revocationSweep)
		mgr, err := session.NewManager(cfg.SessionSigningKey, cfg.SessionTTL, a.revocations)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("session manager: %w", err)
		}
		identityOpts = append(identityOpts, identity.WithSessions(mgr))
		if cfg.RequireSessionToken {
			routerOpts = append(routerOpts, rpc.WithSessionVerifier(mgr))
		}
	}
	if cfg.RequestTimeout > 0 {
		routerOpts = append(routerOpts, rpc.WithRequestTimeout(cfg.RequestTimeout))
	}

	identitySvc := identity.NewService(st.users, identityOpts...)
	schedulingSvc := scheduling.NewService(st.appointments, st.periods,
		scheduling.WithLocker(st.locker),
		scheduling.WithEvents(emitter),
		scheduling.WithStrictReschedule(cfg.RescheduleChecksAvailability))
	medicationSvc := medication.NewService(st.prescriptions,
		medication.WithEvents(emitter),
		medication.WithClock(o.now))
	clinicalSvc := clinical.NewService(st.vitals, st.diagnoses, st.referrals,
		clinical.WithEvents(emitter),
		clinical.WithLogger(logger.With().Str("component", "clinical").Logger()),
		clinical.WithClock(o.now))

	a.Router = rpc.NewRouter(logger, routerOpts...)
	identity.NewHandler(identitySvc).RegisterOps(a.Router)
	scheduling.NewHandler(schedulingSvc, identitySvc).RegisterOps(a.Router)
	medication.NewHandler(medicationSvc).RegisterOps(a.Router)
	clinical.NewHandler(clinicalSvc).RegisterOps(a.Router)
	logger.Debug().Int("operations", len(a.Router.Types())).Msg("rpc operations registered")

	a.server = rpc.NewServer(rpc.ServerConfig{
		Addr:            cfg.ListenAddr(),
		MaxConnections:  cfg.MaxConnections,
		MaxFrameBytes:   cfg.MaxFrameBytes,
		IdleTimeout:     cfg.IdleTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, a.Router, logger)

	if addr := cfg.OpsAddr(); addr != "" {
		oc := ops.Config{
			Addr:       addr,
			Store:      cfg.Store,
			Stats:      a.server.Stats,
			Operations: a.Router.Types(),
		}
		if a.pool != nil {
			pool := a.pool
			oc.DB = pool
			oc.PoolStats = func() *db.PoolStats { return db.GetPoolStats(pool) }
		}
		a.ops = ops.New(oc, logger)
	}

	return a, nil
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	switch {
	case len(cfg.KafkaBrokers) > 0:
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing events to kafka")
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	case cfg.IsDev():
		return events.NewLogPublisher(logger)
	default:
		return events.Nop{}
	}
}

// Start binds the RPC listener and, when configured, the ops server.
func (a *App) Start() error {
	if err := a.server.Start(); err != nil {
		return err
	}
	if a.ops != nil {
		if err := a.ops.Start(); err != nil {
			_ = a.server.Stop()
			return err
		}
	}
	return nil
}

// Addr is the bound RPC address.
func (a *App) Addr() string { return a.server.Addr() }

// OpsAddr is the bound ops address, or "" when the ops server is off.
func (a *App) OpsAddr() string {
	if a.ops == nil {
		return ""
	}
	return a.ops.Addr()
}

// Stats reports the RPC connection counters.
func (a *App) Stats() rpc.Stats { return a.server.Stats() }

// Shutdown drains the RPC server within ctx, then stops the ops server and
// releases the publisher, session store and database pool.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("rpc shutdown: %w", err))
	}
	if a.ops != nil {
		if err := a.ops.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ops shutdown: %w", err))
		}
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) close() error {
	var err error
	if a.publisher != nil {
		if cerr := a.publisher.Close(); cerr != nil {
			err = fmt.Errorf("close publisher: %w", cerr)
		}
	}
	if a.revocations != nil {
		a.revocations.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return err
}
