package transport

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/action"
	"github.com/pitabwire/dastyar/internal/config"
	"github.com/pitabwire/dastyar/internal/crud"
	"github.com/pitabwire/dastyar/internal/definition"
	"github.com/pitabwire/dastyar/internal/jobs"
	"github.com/pitabwire/dastyar/internal/lookup"
	"github.com/pitabwire/dastyar/internal/metadata"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/openapi"
	"github.com/pitabwire/dastyar/internal/search"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	// Gatherer serves the metrics endpoint. Nil disables it.
	Gatherer prometheus.Gatherer

	Registry     *definition.Registry
	Store        store.Store
	Actions      *action.Service
	Checker      crud.DependencyChecker
	Capabilities model.CapabilityResolver
	Lookups      *lookup.Provider
	Search       *search.Provider

	Menu       *metadata.MenuProvider
	Tables     *metadata.TableProvider
	Forms      *metadata.FormProvider
	RowActions *metadata.ActionProvider

	JobConfig *jobs.Config
	Submitter *jobs.Submitter
	Broker    jobs.Broker
	Updater   *jobs.StatusUpdater

	// Idempotency, when set, replays resubmitted mutations.
	Idempotency crud.IdempotencyStore

	Tokens   *TokenIssuer
	Accounts *Accounts
	Denylist Denylist

	Readiness observability.ReadinessChecks
	OpenAPI   *openapi3.T
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics, login and job callbacks
// bypass authentication.
func NewRouter(deps Dependencies) chi.Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(Recovery(deps.Logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	r.Use(deps.Metrics.MetricsMiddleware)
	r.Use(WithRequestLogger(deps.Logger))
	r.Use(AccessLog)

	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	if deps.Gatherer != nil && deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, observability.HandlerFor(deps.Gatherer))
	}

	r.Route(openapi.BasePath, func(r chi.Router) {
		r.Post("/auth/login", handleLogin(deps.Accounts))
		r.Post("/jobs/{id}/callback", handleJobCallback(deps))
		if deps.OpenAPI != nil {
			r.Get("/openapi.json", handleOpenAPI(deps.OpenAPI))
		}

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthenticator(deps.Tokens, deps.Denylist))
			r.Use(BuildRequestContext)
			r.Use(ResolveCapabilities(deps.Capabilities))

			// The job stream lives as long as its jobs, not a handler.
			r.Get("/entities/{entity}/{id}/jobs/stream", handleJobStream(deps))

			r.Group(func(r chi.Router) {
				r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))

				r.Post("/auth/logout", handleLogout(deps.Accounts))
				r.Get("/navigation", handleNavigation(deps.Menu))
				r.Get("/lookups/{id}", handleLookup(deps.Lookups, deps.Logger))
				r.Get("/search", handleSearch(deps.Search, deps.Logger))

				r.Get("/tables/{entity}", handleTable(deps))
				r.Get("/tables/{entity}/rows", handleRows(deps))

				r.Get("/forms/{entity}/{op}", handleGetForm(deps))
				r.Post("/forms/{entity}/{op}/validate", handleValidateForm(deps))

				r.Post("/entities/{entity}", handleSubmit(deps, model.OpAdd))
				r.Get("/entities/{entity}/{id}", handleView(deps))
				r.Put("/entities/{entity}/{id}", handleSubmit(deps, model.OpEdit))
				r.Delete("/entities/{entity}/{id}", handleDelete(deps))
				r.Get("/entities/{entity}/{id}/dependencies", handleDependencies(deps))
				r.Post("/entities/{entity}/{id}/jobs", handleSubmitJobs(deps))
			})
		})
	})

	return r
}

func handleOpenAPI(doc *openapi3.T) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, doc)
	}
}
