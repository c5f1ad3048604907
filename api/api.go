// Package api exposes the certificate and signature operations over
// REST. The handlers are thin adapters: request decoding, error
// mapping, and response envelopes around the directory, lifecycle, and
// signature services.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/maritimelab/seatrust/directory"
	"github.com/maritimelab/seatrust/lifecycle"
	"github.com/maritimelab/seatrust/signature"
	"github.com/maritimelab/seatrust/truststore"
)

//go:embed openapi.yaml
var openapiSpec []byte

// API holds the dependencies needed by the REST handlers.
type API struct {
	dir    *directory.Directory
	lc     *lifecycle.Service
	sig    *signature.Service
	trust  *truststore.Store
	logger *slog.Logger
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger. If not set, a default JSON
// logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// New creates a new API instance.
func New(dir *directory.Directory, lc *lifecycle.Service, sig *signature.Service, trust *truststore.Store, opts ...Option) *API {
	a := &API{dir: dir, lc: lc, sig: sig, trust: trust}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/entities", a.CreateEntity)
	r.Get("/entities", a.ListEntities)
	r.Route("/entities/{entityID}", func(r chi.Router) {
		r.Get("/", a.GetEntity)
		r.Put("/", a.CorrectEntity)
		r.Delete("/", a.DeleteEntity)
		r.Post("/certificates", a.IssueCertificate)
		r.Get("/certificates", a.ListCertificates)
		r.Post("/sync", a.Synchronize)
	})

	r.Get("/certificates/{certID}", a.GetCertificate)
	r.Post("/certificates/{certID}/revoke", a.RevokeCertificate)
	r.Delete("/certificates/{certID}", a.DeleteCertificate)

	r.Post("/signatures/sign", a.Sign)
	r.Post("/signatures/verify", a.Verify)

	r.Get("/trust/{alias}/thumbprint", a.Thumbprint)

	return r
}
