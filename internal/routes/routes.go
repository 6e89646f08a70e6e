package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/classbank/classbank/internal/accounts"
	"github.com/classbank/classbank/internal/claims"
	"github.com/classbank/classbank/internal/config"
	"github.com/classbank/classbank/internal/events"
	"github.com/classbank/classbank/internal/ledger"
	"github.com/classbank/classbank/internal/middleware"
	"github.com/classbank/classbank/internal/payments"
	"github.com/classbank/classbank/internal/payroll"
	"github.com/classbank/classbank/internal/roster"
	"github.com/classbank/classbank/internal/tenancy"
	"github.com/classbank/classbank/internal/uow"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg       config.Config
	DB        *pgxpool.Pool
	Cache     *redis.Client
	Publisher events.Publisher
	Logger    *slog.Logger
}

// Setup configures middlewares and all application routes. Without a
// database or Redis, in-memory backends are used; that is only allowed in
// development.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Publisher == nil {
		d.Publisher = events.NewLoggerPublisher(d.Logger)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	var (
		store      ledger.Store
		runner     uow.Runner
		rosterRepo roster.Repository
		claimRepo  claims.Repository
		sessions   tenancy.SessionStore
	)
	if d.DB != nil {
		store = ledger.NewPostgresLedger(d.DB)
		runner = uow.NewPostgresRunner(d.DB)
		rosterRepo = roster.NewPostgresRepository(d.DB)
		claimRepo = claims.NewPostgresRepository(d.DB)
	} else {
		store = ledger.NewInMemory()
		runner = uow.NewMemoryRunner()
		rosterRepo = roster.NewMemoryRepository()
		claimRepo = claims.NewMemoryRepository()
	}
	if d.Cache != nil {
		sessions = tenancy.NewRedisSessionStore(d.Cache)
	} else {
		sessions = tenancy.NewMemorySessionStore()
	}

	rosterSvc := roster.NewService(rosterRepo, d.Logger)
	writer := ledger.NewWriter(store, runner, d.Publisher, d.Logger,
		ledger.WithMemberships(rosterSvc),
		ledger.WithBatchConcurrency(d.Cfg.PayrollConcurrency),
	)
	engine := claims.NewEngine(claimRepo, writer, d.Publisher, d.Logger)
	resolver := tenancy.NewResolver(sessions, d.Cfg.SessionTTL, d.Logger)

	d.Logger.Info("ledger wired",
		slog.Bool("postgres", d.DB != nil),
		slog.Bool("redis", d.Cache != nil),
		slog.String("claim_guard", engine.Guard().Strategy()),
	)

	RegisterHealthRoutes(app, d, engine.Guard().Strategy())

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	authn := middleware.Principal([]byte(d.Cfg.JWTSecret), rosterSvc, d.Logger)
	tenant := middleware.Tenant(resolver)
	idem := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)

	RegisterRosterRoutes(api.Group("/roster", authn), roster.NewHandler(rosterSvc))
	accountsHandler := accounts.NewHandler(accounts.NewService(writer, accounts.WithRoster(rosterSvc), accounts.WithLogger(d.Logger)))
	RegisterAccountRoutes(api.Group("/accounts", authn, tenant, idem), accountsHandler)
	RegisterLedgerRoutes(api.Group("/ledger", authn, tenant, idem), accountsHandler)
	RegisterPaymentRoutes(api.Group("/payments", authn, tenant, idem),
		payments.NewHandler(payments.NewService(writer, rosterSvc, d.Publisher, d.Logger)))
	RegisterPayrollRoutes(api.Group("/payroll", authn, tenant, idem),
		payroll.NewHandler(payroll.NewService(writer, d.Publisher, d.Logger)))

	claimsHandler := claims.NewHandler(engine)
	RegisterClaimRoutes(api.Group("/claims", authn, tenant, idem), claimsHandler,
		middleware.ClaimRateLimit(d.Cache, d.Cfg.ClaimRateLimit))
	RegisterPolicyRoutes(api.Group("/policies", authn, tenant, idem), claimsHandler)

	return nil
}
