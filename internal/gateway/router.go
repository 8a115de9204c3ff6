// ABOUTME: HTTP routing for health, metrics, webhooks, and the JSON API mirror
// ABOUTME: Built on chi with request ids, real-ip, and panic recovery

package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/2389/clawswarm/internal/adapter/whatsapp"
	"github.com/2389/clawswarm/internal/auth"
	"github.com/2389/clawswarm/internal/bus"
	"github.com/2389/clawswarm/internal/gatewayrpc"
	"github.com/2389/clawswarm/internal/message"
	"github.com/2389/clawswarm/internal/metrics"
)

// WhatsAppWebhookPath receives Meta's subscription checks and deliveries.
const WhatsAppWebhookPath = "/webhooks/whatsapp"

func (g *Gateway) newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// Health endpoints - no auth required
	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, promhttp.Handler())
	}

	if g.bus != nil && g.hasPlatform(message.PlatformWhatsApp) {
		wa := g.config.Platforms.WhatsApp
		handler := &whatsapp.Handler{
			VerifyToken: wa.VerifyToken,
			AppSecret:   wa.AppSecret,
			Subject:     bus.SubjectInbound(message.PlatformWhatsApp),
			Publisher:   g.bus,
			Logger:      g.logger.With("component", "whatsapp-webhook"),
		}
		limiter := rate.NewLimiter(rate.Limit(wa.WebhookRate), wa.WebhookBurst)
		r.With(rateLimit(limiter, message.PlatformWhatsApp)).Handle(WhatsAppWebhookPath, handler)
		g.logger.Info("webhook enabled", "platform", message.PlatformWhatsApp, "path", WhatsAppWebhookPath)
	}

	r.Group(func(r chi.Router) {
		if g.tokens != nil {
			r.Use(auth.HTTPMiddleware(g.tokens, g.logger))
			g.logger.Info("HTTP auth middleware enabled")
		} else {
			g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
		}
		r.Get("/api/messages", g.handlePollMessages)
		r.Post("/api/messages", g.handlePollMessages)
		r.Get("/api/stream", g.handleStream)
		r.Get("/api/health", g.handleHealthJSON)
	})

	return r
}

func (g *Gateway) hasPlatform(p message.Platform) bool {
	for _, in := range g.ingesters {
		if in.platform == p {
			return true
		}
	}
	return false
}

// rateLimit rejects requests beyond the limiter's budget with 429.
func rateLimit(limiter *rate.Limiter, platform message.Platform) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				metrics.WebhookEvents.WithLabelValues(platform.String(), "throttled").Inc()
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limited", http.StatusTooManyRequests)
				return
			}
			metrics.WebhookEvents.WithLabelValues(platform.String(), "accepted").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once at least one platform is enabled and none
// is backing off.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	h := g.healthStatus()
	if len(h.EnabledPlatforms) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no platforms enabled"))
		return
	}
	if h.Status != gatewayrpc.StatusServing {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "degraded (%s backing off)", joinPlatforms(h.BackingOff))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d platforms)", len(h.EnabledPlatforms))
}

func joinPlatforms(ps []message.Platform) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.String()
	}
	return strings.Join(names, ", ")
}
