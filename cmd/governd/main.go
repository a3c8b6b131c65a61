package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"aegis/pkg/approval"
	"aegis/pkg/arbitration"
	"aegis/pkg/auditchain"
	"aegis/pkg/auth"
	"aegis/pkg/axioms"
	"aegis/pkg/hardening"
	"aegis/pkg/httpx"
	"aegis/pkg/metrics"
	"aegis/pkg/models"
	"aegis/pkg/notify"
	"aegis/pkg/ratelimit"
	"aegis/pkg/renaissance"
	"aegis/pkg/security"
	"aegis/pkg/store"
	"aegis/pkg/stream"
	"aegis/pkg/telemetry"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

type governDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type governDBCloser interface {
	governDB
	Close()
}

type Server struct {
	DB                  governDB
	Cache               store.Cache
	Redis               *redis.Client
	Metrics             *metrics.Registry
	Events              *stream.Hub
	Chain               *auditchain.Chain
	Axioms              *axioms.Registry
	Engine              *arbitration.Engine
	Approvals           *approval.Workflow
	Health              *renaissance.Machine
	Guard               *security.Guard
	RateLimiter         ratelimit.Limiter
	RateLimitEnabled    bool
	RateLimitPerMinute  int
	AuthMode            string
	AuthSecret          string
	DefaultScope        string
	IdempotencyTTL      time.Duration
	SweepInterval       time.Duration
	MaxRequestBodyBytes int64
	TrustedProxyCIDRs   []*net.IPNet

	scopesMu sync.Mutex
	scopes   map[string]struct{}
}

// lateResolver breaks the construction cycle between the approval
// workflow (which hands decisions to the engine) and the engine (which
// opens approvals through the workflow).
type lateResolver struct {
	engine *arbitration.Engine
}

func (l *lateResolver) Override(ctx context.Context, scope, conflictID, selectedOptionID, justification, actorID string) (models.Conflict, error) {
	return l.engine.Override(ctx, scope, conflictID, selectedOptionID, justification, actorID)
}

func (l *lateResolver) Block(ctx context.Context, scope, conflictID, reason, actorID string) (models.Conflict, error) {
	return l.engine.Block(ctx, scope, conflictID, reason, actorID)
}

type governInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type governOpenDBFunc func(ctx context.Context) (governDBCloser, error)
type governOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type governListenFunc func(server *http.Server) error
type governStartLoopsFunc func(s *Server)

// Testable variables for main()
var (
	logFatalf      = log.Fatalf
	initTelemetryG = telemetry.Init
	openDBFnG      = func(ctx context.Context) (governDBCloser, error) { return store.NewPostgresPool(ctx) }
	openRedisFnG   = store.NewRedis
	listenFnG      = func(server *http.Server) error { return server.ListenAndServe() }
	startLoopsFnG  = func(s *Server) {
		go s.sweepApprovalsLoop(context.Background())
		go s.metricsLoop(context.Background())
	}
)

func main() {
	if err := runGovernd(initTelemetryG, openDBFnG, openRedisFnG, listenFnG, startLoopsFnG); err != nil {
		logFatalf("governd: %v", err)
	}
}

func runGovernd(
	initTelemetry governInitTelemetryFunc,
	openDB governOpenDBFunc,
	openRedis governOpenRedisFunc,
	listen governListenFunc,
	startLoops governStartLoopsFunc,
) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "governd")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	pool, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := store.NewCache(ctx, redisClient)

	s := &Server{
		DB:                  pool,
		Cache:               cache,
		Redis:               redisClient,
		Metrics:             metrics.NewRegistry(),
		Events:              stream.NewHub(),
		RateLimitEnabled:    env("RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitPerMinute:  envInt("RATE_LIMIT_PER_MINUTE", 240),
		AuthMode:            env("AUTH_MODE", "oidc_hs256"),
		AuthSecret:          env("OIDC_HS256_SECRET", ""),
		DefaultScope:        env("DEFAULT_SCOPE", "default"),
		IdempotencyTTL:      time.Second * time.Duration(envInt("IDEMPOTENCY_TTL_SEC", 300)),
		SweepInterval:       time.Second * time.Duration(envInt("APPROVAL_SWEEP_INTERVAL_SEC", 60)),
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		TrustedProxyCIDRs:   parseCIDRs(env("TRUSTED_PROXY_CIDRS", "")),
		scopes:              map[string]struct{}{},
	}
	if s.MaxRequestBodyBytes <= 0 {
		s.MaxRequestBodyBytes = 1 << 20
	}

	runtimeEnv := env("ENVIRONMENT", env("APP_ENV", ""))
	if strings.EqualFold(s.AuthMode, "off") {
		if env("ALLOW_INSECURE_AUTH_OFF", "false") != "true" {
			return errors.New("AUTH_MODE=off is disabled unless ALLOW_INSECURE_AUTH_OFF=true")
		}
		if isProductionLikeEnv(runtimeEnv) {
			return errors.New("AUTH_MODE=off is forbidden in production-like environments")
		}
	}
	if err := hardening.ValidateProduction(hardening.Options{
		Service:               "governd",
		Environment:           runtimeEnv,
		StrictProdSecurity:    env("STRICT_PROD_SECURITY", "true"),
		AuthMode:              s.AuthMode,
		DatabaseRequireTLS:    env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:             env("REDIS_ADDR", ""),
		RedisRequireTLS:       env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:      env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS: env("REDIS_ALLOW_INSECURE_TLS", ""),
		CORSAllowedOrigins:    env("CORS_ALLOWED_ORIGINS", ""),
		RequiredServiceSecrets: []hardening.EnvRequirement{
			{Name: "OIDC_HS256_SECRET", Value: s.AuthSecret},
		},
	}); err != nil {
		return err
	}

	rateLimitWindow := time.Second * time.Duration(envInt("RATE_LIMIT_WINDOW_SEC", 60))
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	if s.RateLimitEnabled {
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, rateLimitWindow)
		} else {
			s.RateLimiter = ratelimit.NewInMemory(rateLimitWindow)
		}
	}

	publishers := []func(models.AuditEntry){stream.AuditPublisher(s.Events)}
	if brokers := splitCSV(env("KAFKA_BROKERS", "")); len(brokers) > 0 {
		emitter, err := notify.NewKafkaEmitter(notify.KafkaConfig{
			Brokers: brokers,
			Topic:   env("KAFKA_AUDIT_TOPIC", "aegis.audit"),
		})
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer func() { _ = emitter.Close() }()
		publishers = append(publishers, emitter.Publisher())
	}
	s.Chain = auditchain.New(auditchain.NewPostgresStore(pool), auditchain.WithPublisher(func(e models.AuditEntry) {
		for _, publish := range publishers {
			publish(e)
		}
	}))

	s.Axioms = axioms.NewRegistry(s.Chain)

	approvalOpts := []approval.Option{}
	if webhookURL := env("APPROVAL_WEBHOOK_URL", ""); webhookURL != "" {
		notifier, err := notify.NewWebhook(webhookURL, env("APPROVAL_WEBHOOK_SECRET", ""))
		if err != nil {
			return fmt.Errorf("approval webhook: %w", err)
		}
		notifier.Client = telemetry.InstrumentClient(notifier.Client)
		approvalOpts = append(approvalOpts, approval.WithNotifier(notifier))
	}
	if ttlHours := envInt("APPROVAL_TTL_HOURS", 0); ttlHours > 0 {
		approvalOpts = append(approvalOpts, approval.WithTTL(time.Hour*time.Duration(ttlHours)))
	}
	resolver := &lateResolver{}
	approvalOpts = append(approvalOpts, approval.WithResolver(resolver))
	s.Approvals = approval.New(approval.NewPostgresStore(pool), s.Chain, approvalOpts...)

	s.Health = renaissance.New(renaissance.NewPostgresStore(pool), s.Chain,
		renaissance.WithFailureThreshold(envInt("HEALTH_FAILURE_THRESHOLD", renaissance.DefaultFailureThreshold)),
		renaissance.WithLockAfterCycles(envInt("HEALTH_LOCK_AFTER_CYCLES", renaissance.DefaultLockAfterCycles)),
	)

	engineOpts := []arbitration.Option{
		arbitration.WithApprovals(s.Approvals, s.Approvals),
		arbitration.WithRestorer(s.Health),
	}
	if raw := env("BLOCK_THRESHOLD", ""); raw != "" {
		if t, err := strconv.ParseFloat(raw, 64); err == nil {
			engineOpts = append(engineOpts, arbitration.WithBlockThreshold(t))
		}
	}
	s.Engine = arbitration.New(s.Axioms, s.Chain, arbitration.NewPostgresConflictStore(pool), engineOpts...)
	resolver.engine = s.Engine

	s.Guard = security.New(security.NewPostgresMetricsStore(pool), s.Chain)

	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("governd"))
	r.Use(s.limitRequestBodyMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "governd"})
	})

	authRouter := chi.NewRouter()
	authTimeout := time.Millisecond * time.Duration(envInt("AUTH_TIMEOUT_MS", 5000))
	authRouter.Use(auth.Middleware(
		s.AuthMode,
		s.AuthSecret,
		auth.WithJWKS(env("OIDC_JWKS_URL", "")),
		auth.WithIssuer(env("OIDC_ISSUER", "")),
		auth.WithAudience(env("OIDC_AUDIENCE", "aegis")),
		auth.WithTimeout(authTimeout),
	))
	authRouter.Use(s.rateLimitMiddleware)
	authRouter.Get("/metrics", s.withRoles(s.Metrics.Handler(), "admin", "securityadmin"))
	authRouter.Get("/metrics/prometheus", s.withRoles(s.Metrics.PrometheusHandler(), "admin", "securityadmin"))

	authRouter.Post("/v1/arbitration/evaluate", s.withRoles(s.handleEvaluate, "operator", "admin"))
	authRouter.Post("/v1/arbitration/conflicts/{conflict_id}/override", s.withRoles(s.handleOverride, "admin"))
	authRouter.Post("/v1/arbitration/conflicts/{conflict_id}/rollback", s.withRoles(s.handleRollback, "admin"))
	authRouter.Get("/v1/arbitration/conflicts/{conflict_id}", s.withRoles(s.handleGetConflict, "operator", "admin", "securityadmin"))
	authRouter.Get("/v1/arbitration/conflicts", s.withRoles(s.handleListConflicts, "operator", "admin", "securityadmin"))
	authRouter.Get("/v1/arbitration/stats", s.withRoles(s.handleArbitrationStats, "operator", "admin", "securityadmin"))
	authRouter.Get("/v1/axioms", s.withRoles(s.handleListAxioms))
	authRouter.Patch("/v1/axioms/{axiom_id}", s.withRoles(s.handlePatchAxiom, "admin"))

	authRouter.Post("/v1/approvals", s.withRoles(s.handleCreateApproval, "operator", "admin"))
	authRouter.Post("/v1/approvals/{request_id}/process", s.withRoles(s.handleProcessApproval, "admin"))
	authRouter.Get("/v1/approvals/pending", s.withRoles(s.handleListPendingApprovals, "admin", "securityadmin"))

	authRouter.Post("/v1/health/errors", s.withRoles(s.handleReportError, "operator", "admin"))
	authRouter.Post("/v1/health/renaissance", s.withRoles(s.handleForceRenaissance, "admin"))
	authRouter.Post("/v1/health/validate", s.withRoles(s.handleAdminValidate, "admin"))
	authRouter.Post("/v1/health/errors/{error_id}/resolve", s.withRoles(s.handleResolveError, "admin"))
	authRouter.Get("/v1/health/report", s.withRoles(s.handleHealthReport, "operator", "admin", "securityadmin"))
	authRouter.Get("/v1/health/stats", s.withRoles(s.handleHealthStats, "operator", "admin", "securityadmin"))
	authRouter.Get("/v1/health/errors", s.withRoles(s.handleHealthErrors, "operator", "admin", "securityadmin"))
	authRouter.Get("/v1/health/cycles", s.withRoles(s.handleHealthCycles, "operator", "admin", "securityadmin"))

	authRouter.Post("/v1/security/violations", s.withRoles(s.handleRecordViolation, "operator", "admin"))
	authRouter.Post("/v1/security/unlock", s.withRoles(s.handleSecurityUnlock, "admin"))
	authRouter.Post("/v1/security/encryption", s.withRoles(s.handleSetEncryption, "admin"))
	authRouter.Post("/v1/security/filter", s.withRoles(s.handleSetFilter, "admin"))
	authRouter.Get("/v1/security/verify", s.withRoles(s.handleVerifyIntegrity, "admin", "securityadmin", "auditor"))
	authRouter.Get("/v1/security/status", s.withRoles(s.handleSecurityStatus, "operator", "admin", "securityadmin"))
	authRouter.Get("/v1/security/metrics", s.withRoles(s.handleSecurityMetrics, "operator", "admin", "securityadmin"))
	authRouter.Get("/v1/security/violations", s.withRoles(s.handleSecurityViolations, "operator", "admin", "securityadmin"))

	authRouter.Get("/v1/audit", s.withRoles(s.handleAuditList, "admin", "securityadmin", "auditor"))
	authRouter.Get("/v1/audit/verify", s.withRoles(s.handleAuditVerify, "admin", "securityadmin", "auditor"))
	authRouter.Get("/v1/stream", s.withRoles(s.streamEvents, "admin", "securityadmin"))
	r.Mount("/", authRouter)

	if startLoops != nil {
		startLoops(s)
	}

	addr := env("ADDR", ":8080")
	log.Printf("governd listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		path := r.Method + " " + r.URL.Path
		s.Metrics.Observe(path, rec.code, elapsed)
		s.Metrics.ObserveLatency(path, elapsed)
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.RateLimitEnabled || s.RateLimiter == nil || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		subject := "anonymous"
		if principal, ok := auth.PrincipalFromContext(r.Context()); ok && principal.Subject != "" {
			subject = strings.ToLower(principal.Subject)
		}
		key := subject + ":" + s.clientIP(r)
		decision := s.RateLimiter.Allow(key, s.RateLimitPerMinute)
		if !decision.Allowed {
			retryAfter := int(time.Until(decision.ResetAt).Milliseconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			httpx.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":          "rate limit exceeded",
				"retry_after_ms": retryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRoles(h http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(s.AuthMode, "off") {
			h(w, r)
			return
		}
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			httpx.Error(w, 401, "unauthenticated")
			return
		}
		if !auth.HasAnyRole(principal, roles...) {
			httpx.Error(w, 403, "forbidden")
			return
		}
		if !isElevatedPrincipal(principal) && strings.TrimSpace(principal.Tenant) == "" {
			httpx.Error(w, 403, "tenant required")
			return
		}
		h(w, r)
	}
}

// resolveScope binds every operation to the caller's tenant. The
// X-Scope override is honored only for securityadmin principals (or
// when auth is off, for local development).
func (s *Server) resolveScope(r *http.Request) string {
	override := strings.TrimSpace(r.Header.Get("X-Scope"))
	if strings.EqualFold(s.AuthMode, "off") {
		if override != "" {
			return s.registerScope(override)
		}
		return s.registerScope(s.DefaultScope)
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if ok && override != "" && auth.HasAnyRole(principal, "securityadmin") {
		return s.registerScope(override)
	}
	if ok && strings.TrimSpace(principal.Tenant) != "" {
		return s.registerScope(principal.Tenant)
	}
	return s.registerScope(s.DefaultScope)
}

func (s *Server) registerScope(scope string) string {
	s.scopesMu.Lock()
	if _, ok := s.scopes[scope]; !ok {
		s.scopes[scope] = struct{}{}
	}
	s.scopesMu.Unlock()
	return scope
}

func (s *Server) knownScopes() []string {
	s.scopesMu.Lock()
	defer s.scopesMu.Unlock()
	out := make([]string, 0, len(s.scopes))
	for scope := range s.scopes {
		out = append(out, scope)
	}
	return out
}

func (s *Server) actorID(r *http.Request) string {
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok && strings.TrimSpace(principal.Subject) != "" {
		return principal.Subject
	}
	return "anonymous"
}

func (s *Server) sweepApprovalsLoop(ctx context.Context) {
	interval := s.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, scope := range s.knownScopes() {
				if n, err := s.Approvals.SweepExpired(ctx, scope); err != nil {
					log.Printf("approval sweep scope=%s: %v", scope, err)
				} else if n > 0 {
					s.Metrics.IncApproval("expired")
				}
			}
		}
	}
}

func (s *Server) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := 0
			for _, scope := range s.knownScopes() {
				if n, err := s.Approvals.CountPending(ctx, scope); err == nil {
					total += n
				}
			}
			s.Metrics.SetGauge("approvals_pending", float64(total))
		}
	}
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		httpx.Error(w, 503, "stream unavailable")
		return
	}
	scope := s.resolveScope(r)
	if strings.TrimSpace(r.Header.Get("X-Scope")) == "*" {
		if principal, ok := auth.PrincipalFromContext(r.Context()); strings.EqualFold(s.AuthMode, "off") || (ok && auth.HasAnyRole(principal, "securityadmin")) {
			scope = ""
		}
	}
	opts := &websocket.AcceptOptions{}
	if origins := splitCSV(env("WS_ALLOWED_ORIGINS", "")); len(origins) > 0 {
		opts.OriginPatterns = origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(scope, 64)
	defer s.Events.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", scope, nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func (s *Server) clientIP(r *http.Request) string {
	remoteIP := parseIP(r.RemoteAddr)
	if remoteIP == "" {
		remoteIP = r.RemoteAddr
	}
	if remoteIP != "" && s.isTrustedProxy(remoteIP) {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) > 0 {
				if candidate := parseIP(strings.TrimSpace(parts[0])); candidate != "" {
					return candidate
				}
			}
		}
		if realIP := parseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); realIP != "" {
			return realIP
		}
	}
	if remoteIP == "" {
		return "unknown"
	}
	return remoteIP
}

func (s *Server) isTrustedProxy(ipStr string) bool {
	if len(s.TrustedProxyCIDRs) == 0 {
		return false
	}
	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil {
		return false
	}
	for _, cidr := range s.TrustedProxyCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func parseIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if net.ParseIP(addr) != nil {
		return addr
	}
	return ""
}

func parseCIDRs(raw string) []*net.IPNet {
	out := []*net.IPNet{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, cidr, err := net.ParseCIDR(part); err == nil {
			out = append(out, cidr)
		}
	}
	return out
}

func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	if strings.Contains(strings.ToLower(err.Error()), "request body too large") {
		httpx.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	httpx.Error(w, http.StatusBadRequest, "invalid request body")
	return nil, false
}

func isElevatedPrincipal(principal auth.Principal) bool {
	return auth.HasAnyRole(principal, "admin", "securityadmin", "auditor")
}

func isProductionLikeEnv(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
