package out

import (
	"context"
	"time"

	"insight_server/core/domain"
)

// AnalysisCache defines the outbound port for content-addressed analysis results.
// A Get after the entry's ttl has elapsed must report a miss.
type AnalysisCache interface {
	GetAnalysis(ctx context.Context, key string) (*domain.AnalysisResult, bool)
	PutAnalysis(ctx context.Context, key string, value *domain.AnalysisResult, ttl time.Duration)

	GetThread(ctx context.Context, key string) (*domain.ThreadAnalysis, bool)
	PutThread(ctx context.Context, key string, value *domain.ThreadAnalysis, ttl time.Duration)
}

// CacheStats is reported by cache implementations that track hit rates.
type CacheStats struct {
	Items   int     `json:"items"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}
