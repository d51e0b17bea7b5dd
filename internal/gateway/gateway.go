// Package gateway implements the edge router of the mesh: it classifies each
// inbound request, verifies access tokens, normalizes identity headers and
// proxies to the owning service. It holds no session store; renewal is left
// to the service that owns the session.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/hashjosh/meshauth/internal/auth"
	"github.com/hashjosh/meshauth/internal/config"
	"github.com/hashjosh/meshauth/internal/middleware"
	"github.com/hashjosh/meshauth/internal/services/iam"
	"github.com/hashjosh/meshauth/internal/telemetry"
)

const tracerName = "meshauth/gateway"

// OutcomeDeferred is recorded when an expired token is forwarded for renewal downstream.
const OutcomeDeferred = "deferred"

// Options configures a Gateway.
type Options struct {
	Config       config.GatewayConfig
	AccessCookie string
	Codec        *auth.TokenCodec
	Trust        *auth.TrustRegistry
	Metrics      *telemetry.AuthMetrics
	Logger       zerolog.Logger
	// Transport overrides the upstream round tripper (tests).
	Transport http.RoundTripper
}

// Gateway is the http.Handler that fronts every service.
type Gateway struct {
	classifier   *Classifier
	routes       *RouteTable
	proxies      map[string]*httputil.ReverseProxy
	realtime     *httputil.ReverseProxy
	accessCookie string
	codec        *auth.TokenCodec
	metrics      *telemetry.AuthMetrics
	log          zerolog.Logger
}

// New validates opts and builds one reverse proxy per route.
func New(opts Options) (*Gateway, error) {
	if opts.Codec == nil {
		return nil, errors.New("gateway requires a token codec")
	}
	trust := opts.Trust
	if trust == nil {
		trust = auth.NewTrustRegistry(nil)
	}
	routes, err := NewRouteTable(opts.Config.Routes)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		classifier:   NewClassifier(opts.Config.PublicPaths, opts.Config.RealtimePrefix, trust),
		routes:       routes,
		proxies:      make(map[string]*httputil.ReverseProxy, len(routes.routes)),
		accessCookie: opts.AccessCookie,
		codec:        opts.Codec,
		metrics:      opts.Metrics,
		log:          opts.Logger.With().Str("component", "gateway").Logger(),
	}
	if g.accessCookie == "" {
		g.accessCookie = iam.DefaultAccessCookie
	}

	for _, route := range routes.routes {
		g.proxies[route.Prefix] = g.newProxy(route.Upstream, false, opts.Transport)
	}
	if opts.Config.RealtimePrefix != "" && opts.Config.RealtimeUpstream != "" {
		upstream, err := parseUpstream(opts.Config.RealtimeUpstream)
		if err != nil {
			return nil, fmt.Errorf("realtime upstream: %w", err)
		}
		g.realtime = g.newProxy(upstream, true, opts.Transport)
	}
	return g, nil
}

// ServeHTTP classifies, authenticates and forwards one request.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	class := g.classifier.Classify(r)
	StripIdentityHeaders(r.Header, class)

	if class == ClassPublic && g.classifier.IsRealtime(r.URL.Path) {
		if g.realtime == nil {
			middleware.WriteJSONError(w, http.StatusNotFound, "Not Found - no realtime backend configured")
			return
		}
		g.metrics.RecordAuth(ctx, middleware.OutcomePublic, "")
		g.realtime.ServeHTTP(w, r)
		return
	}

	route, ok := g.routes.Lookup(r.URL.Path)
	if !ok {
		middleware.WriteJSONError(w, http.StatusNotFound, "Not Found - no route for "+r.URL.Path)
		return
	}

	switch class {
	case ClassPublic:
		g.metrics.RecordAuth(ctx, middleware.OutcomePublic, "")
	case ClassTrustExempt:
		g.metrics.RecordAuth(ctx, middleware.OutcomeAuthenticated, "")
	case ClassUntrusted:
		g.reject(w, r, iam.ErrUntrustedIdentity)
		return
	default:
		if err := g.authenticate(r); err != nil {
			g.reject(w, r, err)
			return
		}
	}

	g.proxies[route.Prefix].ServeHTTP(w, r)
}

// authenticate verifies the access token of a protected request and rewrites
// its headers for the upstream.
func (g *Gateway) authenticate(r *http.Request) (err error) {
	ctx, span := telemetry.StartSpan(r.Context(), tracerName, "gateway.Authenticate")
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	areq := iam.NewAuthRequest(r)
	token := iam.AccessTokenFrom(areq, g.accessCookie)
	if token == "" {
		return iam.ErrMissingCredential
	}

	claims, err := g.codec.Verify(token)
	switch {
	case err == nil:
		principal := auth.ResolvePrincipal(*claims)
		span.SetAttributes(telemetry.PrincipalAttributes(string(principal.Kind), principal.ServiceID)...)
		SetIdentityHeaders(r.Header, token, principal)
		g.metrics.RecordAuth(ctx, middleware.OutcomeAuthenticated, "")
		return nil
	case errors.Is(err, auth.ErrTokenExpired):
		if iam.RefreshTokenFromHeaders(r.Header.Get) == "" {
			return iam.ErrExpiredNoRefresh
		}
		// Forwarded untouched; the owning service renews and answers with new cookies.
		g.metrics.RecordAuth(ctx, OutcomeDeferred, "")
		return nil
	default:
		return fmt.Errorf("%w: %v", iam.ErrInvalidToken, err)
	}
}

func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, err error) {
	reason := iam.RejectionReason(err)
	g.metrics.RecordAuth(r.Context(), middleware.OutcomeRejected, reason)
	g.log.Warn().
		Err(err).
		Str("reason", reason).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("request rejected at edge")
	middleware.WriteJSONError(w, http.StatusUnauthorized, iam.RejectionMessage(err))
}

func (g *Gateway) newProxy(target *url.URL, preserveHost bool, transport http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			if preserveHost {
				pr.Out.Host = pr.In.Host
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			g.log.Error().
				Err(err).
				Str("upstream", target.Host).
				Str("path", r.URL.Path).
				Msg("upstream request failed")
			middleware.WriteJSONError(w, http.StatusBadGateway, "Bad Gateway - upstream unavailable")
		},
	}
}
