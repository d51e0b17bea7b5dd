package server

import (
	"net/http"
	"net/netip"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/hashjosh/meshauth/internal/auth"
	"github.com/hashjosh/meshauth/internal/telemetry"
)

// RouterOptions controls the construction of a meshauth HTTP router.
// The zero value is valid; sensible defaults are applied where fields are not set.
type RouterOptions struct {
	Logger         zerolog.Logger
	AllowedOrigins []string
	CORSOptions    *cors.Options
	// TrustedProxies are the peers allowed to set the client address through
	// X-Forwarded-For or X-Real-IP. Requests from anyone else keep RemoteAddr.
	TrustedProxies []netip.Prefix
	Metrics        *telemetry.ServerMetrics
	// Middleware runs after the baseline stack, in order (authn, then authz).
	Middleware    []func(http.Handler) http.Handler
	HealthHandler http.HandlerFunc
	Routes        func(chi.Router)
}

// DefaultCORSOptions returns the shared CORS policy for the given origins.
// Credentials are allowed only for an explicit origin list; an empty list or
// "*" serves any origin without cookies.
func DefaultCORSOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			auth.HeaderRefreshToken,
			auth.HeaderInternalService,
			auth.HeaderUserID,
			"X-Request-Id",
		},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: explicitOrigins(origins),
		MaxAge:           300,
	}
}

func explicitOrigins(origins []string) bool {
	return len(origins) > 0 && !slices.Contains(origins, "*")
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy, and
// the caller's routes mounted.
func NewRouter(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	// Baseline middleware shared across entrypoints.
	r.Use(middleware.RequestID)
	r.Use(realIP(opts.TrustedProxies))
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(requestMetrics(opts.Metrics))
	}

	corsCfg := DefaultCORSOptions(opts.AllowedOrigins)
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
		if corsCfg.AllowCredentials && corsCfg.AllowOriginFunc == nil && !explicitOrigins(corsCfg.AllowedOrigins) {
			opts.Logger.Warn().Msg("CORS credentials require an explicit origin list; credentials disabled")
			corsCfg.AllowCredentials = false
		}
	}
	r.Use(cors.Handler(corsCfg))

	// Apply custom middleware passed from the caller.
	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/healthz", healthHandler)

	if opts.Routes != nil {
		opts.Routes(r)
	}
	return r
}

// realIP applies chi's RealIP to requests arriving from a trusted proxy.
// Forwarding headers from any other peer are ignored.
func realIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		forwarded := middleware.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if fromTrustedProxy(r.RemoteAddr, trusted) {
				forwarded.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func fromTrustedProxy(remoteAddr string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	var addr netip.Addr
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		addr = ap.Addr()
	} else if addr, err = netip.ParseAddr(remoteAddr); err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// NewH2CHandler wraps a handler to serve HTTP/2 over cleartext alongside HTTP/1.1.
func NewH2CHandler(h http.Handler) http.Handler {
	return h2c.NewHandler(h, &http2.Server{})
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	event := hlog.FromRequest(r).Info()
	if status >= http.StatusInternalServerError {
		event = hlog.FromRequest(r).Error()
	}
	event.
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}

func requestMetrics(m *telemetry.ServerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordRequest(r.Context(), r.Method, status, float64(time.Since(start).Milliseconds()))
		})
	}
}
