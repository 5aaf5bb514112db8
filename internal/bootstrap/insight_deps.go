package bootstrap

import (
	"context"
	"time"

	"insight_server/adapter/in/http"
	"insight_server/adapter/out/llm"
	"insight_server/adapter/out/provider"
	"insight_server/config"
	"insight_server/core/domain"
	"insight_server/core/port/out"
	"insight_server/core/service/analysis"
	"insight_server/core/service/common"
	mail "insight_server/core/service/email"
	"insight_server/core/service/query"
	"insight_server/pkg/apperr"
	"insight_server/pkg/cache"
	"insight_server/pkg/httputil"
	"insight_server/pkg/logger"
	"insight_server/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

type Dependencies struct {
	Config *config.Config
	Redis  *redis.Client

	// Cache
	RedisCache    *cache.RedisCache
	MemoryCache   *common.MemoryAnalysisCache
	AnalysisCache out.AnalysisCache
	CacheStats    http.CacheStatsProvider

	// Outbound adapters
	LLM          *llm.Client
	MailProvider out.MailProvider
	Circuits     map[string]http.CircuitReporter
	Latency      *metrics.LatencyRegistry

	// Services
	QueryBuilder *query.Builder
	Analyzer     *analysis.Analyzer
	EmailService *mail.Service
}

// NewDependencies builds the object graph. The returned cleanup stops the
// cache janitor and closes Redis.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{
		Config:   cfg,
		Circuits: map[string]http.CircuitReporter{},
		Latency:  metrics.NewLatencyRegistry(1000),
	}
	zlog := logger.Default().Zerolog()

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	cleanup := func() {
		stopJanitor()
		if deps.Redis != nil {
			if err := deps.Redis.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close Redis")
			}
		}
	}

	// Cache: memory L1, Redis L2 when configured
	deps.MemoryCache = common.NewMemoryAnalysisCache(nil)
	deps.AnalysisCache = deps.MemoryCache
	deps.CacheStats = deps.MemoryCache
	go deps.MemoryCache.RunJanitor(janitorCtx, cfg.CacheJanitorInterval(), zlog)

	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, apperr.Wrap(err, apperr.CodeConfigError, "invalid REDIS_URL", fiber.StatusInternalServerError)
		}
		deps.Redis = client
		deps.RedisCache = cache.NewRedisCache(client, cfg.CacheRedisPrefix)

		hybrid := common.NewHybridAnalysisCache(deps.MemoryCache, deps.RedisCache, zlog)
		deps.AnalysisCache = hybrid
		deps.CacheStats = hybrid
		logger.Info("Analysis cache: memory + redis")
	} else {
		logger.Info("Analysis cache: memory only")
	}

	// AI
	// The per-call deadline comes from the analyzer; the transport allows a little more.
	deps.LLM = llm.NewClient(llm.ClientConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.LLMModel,
		HTTPClient: httputil.NewClient(httputil.LLMClientConfig(cfg.LLMTimeout() + 5*time.Second)),
		Latency:    deps.Latency,
	}, zlog)
	deps.Circuits["openai"] = deps.LLM

	// Mail provider
	mp, err := provider.NewMailProvider(cfg.MailProvider, &provider.FactoryConfig{
		Gmail: &provider.GmailConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Endpoint:     cfg.GmailEndpoint,
		},
		Outlook: &provider.OutlookConfig{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURL:  cfg.MicrosoftRedirectURL,
			TenantID:     cfg.MicrosoftTenantID,
			BaseURL:      cfg.GraphBaseURL,
			HTTPClient:   httputil.NewClient(httputil.GraphClientConfig()),
		},
	}, zlog)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.MailProvider = mp
	if cb, ok := mp.(http.CircuitReporter); ok {
		deps.Circuits[mp.GetProviderType()] = cb
	}

	// Services
	deps.QueryBuilder = query.NewBuilder(cfg.ProviderMaxPageSize, domain.ParseSearchStrategy(cfg.SearchStrategy))
	deps.Analyzer = analysis.NewAnalyzer(deps.LLM, deps.AnalysisCache, analysis.Config{
		Temperature: float32(cfg.LLMTemperature),
		MaxTokens:   cfg.LLMMaxTokens,
		CacheTTL:    cfg.AICacheTTL(),
		CallTimeout: cfg.LLMTimeout(),
	}, zlog)
	deps.EmailService = mail.NewService(deps.MailProvider, deps.Analyzer, deps.QueryBuilder, mail.Config{
		AIConcurrency: cfg.AIConcurrency,
		HistoryLimit:  cfg.HistoryLimit,
	}, zlog)

	logger.Info("Dependencies initialized: provider=%s model=%s concurrency=%d", mp.GetProviderType(), deps.LLM.Model(), cfg.AIConcurrency)

	return deps, cleanup, nil
}

// redisPinger returns nil when Redis is not configured so readiness skips it.
func (d *Dependencies) redisPinger() http.Pinger {
	if d.RedisCache == nil {
		return nil
	}
	return d.RedisCache
}
