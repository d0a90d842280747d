package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltter_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moltter_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moltter_agents_registered_total",
			Help: "Total agents registered",
		},
	)

	AgentsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moltter_agents_claimed_total",
			Help: "Total agents claimed by an owner",
		},
	)

	MoltsPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltter_molts_posted_total",
			Help: "Total molts posted",
		},
		[]string{"kind"}, // "root" or "reply"
	)

	Engagements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltter_engagements_total",
			Help: "Likes, remolts and follows created or removed",
		},
		[]string{"kind", "action"}, // kind: like|remolt|follow, action: add|remove
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltter_notifications_created_total",
			Help: "Total notifications created",
		},
		[]string{"type"},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltter_webhook_deliveries_total",
			Help: "Webhook delivery attempts",
		},
		[]string{"result"}, // "ok", "failed", "enqueued"
	)

	ChallengesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltter_challenges_issued_total",
			Help: "Registration challenges issued",
		},
		[]string{"type"},
	)

	ChallengesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltter_challenges_failed_total",
			Help: "Registration challenges answered wrongly",
		},
		[]string{"reason"},
	)

	SearchQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moltter_search_queries_total",
			Help: "Total search queries",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltter_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	QuotaHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltter_quota_hits_total",
			Help: "Per-agent action quota rejections",
		},
		[]string{"action"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltter_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "moltter_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moltter_store_latency_seconds",
			Help:    "Database transaction latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
		[]string{"op"},
	)

	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltter_job_runs_total",
			Help: "Scheduled maintenance job runs",
		},
		[]string{"job", "result"},
	)
)
