package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"notifygate/internal/config"
	"notifygate/internal/models"
	"notifygate/pkg/circuitbreaker"
)

const templateCacheTTL = 5 * time.Minute

type TemplateFetcher interface {
	FetchTemplate(ctx context.Context, name string) (models.Template, error)
}

type TemplateService struct {
	cb         *circuitbreaker.Breaker
	cache      *redis.Client
	baseUrl    string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewTemplateService(baseUrl string, cfg config.BreakerConfig, cache *redis.Client, log zerolog.Logger) *TemplateService {
	return &TemplateService{
		cb: circuitbreaker.New(circuitbreaker.Settings{
			Name:           "template-service",
			ErrorThreshold: cfg.ErrorThreshold,
			ResetTimeout:   cfg.ResetTimeout,
			OnStateChange:  logStateChange(log),
		}),
		cache:   cache,
		baseUrl: baseUrl,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

func (t *TemplateService) Breaker() *circuitbreaker.Breaker { return t.cb }

func (t *TemplateService) FetchTemplate(ctx context.Context, name string) (models.Template, error) {
	cacheKey := fmt.Sprintf("template:%s", name)
	if t.cache != nil {
		if cached, err := t.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			var tpl models.Template
			if err := json.Unmarshal(cached, &tpl); err == nil {
				return tpl, nil
			}
		}
	}

	url := fmt.Sprintf("%s/templates/%s", t.baseUrl, name)
	result, err := t.cb.Execute(func() (interface{}, error) {
		return fetchJSON[models.Template](ctx, t.httpClient, url)
	})
	if err != nil {
		return models.Template{}, mapUpstreamErr("template-service", err)
	}
	tpl, ok := result.(*models.Template)
	if !ok || tpl == nil {
		return models.Template{}, fmt.Errorf("template %s: %w", name, ErrNotFound)
	}

	if t.cache != nil {
		if body, err := json.Marshal(tpl); err == nil {
			if err := t.cache.Set(ctx, cacheKey, body, templateCacheTTL).Err(); err != nil {
				t.log.Debug().Err(err).Str("template", name).Msg("template cache write skipped")
			}
		}
	}
	return *tpl, nil
}
