// Package devserver is an in-memory backend speaking the generation API. It exists for local
// runs of the client and for end-to-end tests: jobs progress through a scripted number of
// polls and produce synthetic images and videos.
package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fotobudka/internal/infra"
	"fotobudka/internal/middleware"
)

const (
	// StartingTokens is the balance of a freshly registered user.
	StartingTokens = 20
	// FailingTemplateID always ends in a failed job.
	FailingTemplateID = 13
	// FailureMessage is reported for failed jobs.
	FailureMessage = "template is temporarily unavailable"

	effectCost = 1
	videoCost  = 3
	maxUpload  = 32 << 20
)

// Options configures the backend.
type Options struct {
	JWTSecret string
	// PollsBeforeDone is how many status polls answer "processing" before a job completes.
	PollsBeforeDone    int
	RateLimitPerSecond int
	Catalog            infra.CatalogConfig
	Logger             *infra.Logger
}

type user struct {
	ID           string
	ExternalID   string
	Tokens       int
	AvatarTokens int
}

type job struct {
	ID      string
	UserID  string
	polls   int
	status  string
	result  string
	failure string
}

type file struct {
	owner       string
	contentType string
	data        []byte
}

// Server holds the backend state.
type Server struct {
	secret          string
	pollsBeforeDone int
	rateLimit       int
	catalog         infra.CatalogConfig
	logger          *infra.Logger

	registry *prometheus.Registry
	requests *prometheus.CounterVec

	mu         sync.Mutex
	users      map[string]*user
	byExternal map[string]string
	jobs       map[string]*job
	files      map[string]file
}

// New constructs a backend with empty state.
func New(opts Options) (*Server, error) {
	if opts.JWTSecret == "" {
		return nil, errors.New("devserver: jwt secret is required")
	}
	if opts.PollsBeforeDone < 0 {
		return nil, errors.New("devserver: polls before done must not be negative")
	}
	s := &Server{
		secret:          opts.JWTSecret,
		pollsBeforeDone: opts.PollsBeforeDone,
		rateLimit:       opts.RateLimitPerSecond,
		catalog:         opts.Catalog,
		logger:          infra.OrDiscard(opts.Logger),
		registry:        prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fotobudka",
			Subsystem: "devserver",
			Name:      "requests_total",
			Help:      "Requests served, by route pattern and status code.",
		}, []string{"route", "status"}),
		users:      make(map[string]*user),
		byExternal: make(map[string]string),
		jobs:       make(map[string]*job),
		files:      make(map[string]file),
	}
	s.registry.MustRegister(s.requests)
	return s, nil
}

// Router wires the routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(*s.logger, s.observe))
	r.Use(middleware.RateLimit(s.rateLimit))

	r.Get("/healthz", s.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Post("/api/users", s.RegisterUser)
	r.Post("/api/users/authorize", s.AuthorizeUser)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(s.secret))
		r.Get("/api/users/me", s.Me)
		r.Get("/api/paywalls", s.Paywalls)

		r.Route("/api/generations", func(r chi.Router) {
			r.Post("/fotobudka/nanobanana", s.SubmitNanoBanana)
			r.Post("/fotobudka/effect", s.SubmitEffect)
			r.Post("/fotobudka/video", s.SubmitVideoEffect)
			r.Post("/fotobudka/txt2video", s.SubmitTextToVideo)
			r.Get("/file/{name}", s.DownloadFile)
			r.Get("/{id}", s.JobStatus)
		})
		r.Post("/fal/video-enhance", s.SubmitVideoEnhance)
	})
	return r
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	s.json(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) observe(r *http.Request, status int) {
	route := "unmatched"
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			route = pattern
		}
	}
	s.requests.WithLabelValues(route, http.StatusText(status)).Inc()
}

func (s *Server) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) error(w http.ResponseWriter, code int, errCode, message string) {
	s.json(w, code, map[string]string{"error": errCode, "detail": message})
}

func (s *Server) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
