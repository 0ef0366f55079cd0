package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"notifygate/internal/config"
	"notifygate/internal/models"
	"notifygate/pkg/circuitbreaker"
)

// ErrNotFound marks a user or template lookup miss.
var ErrNotFound = errors.New("not found")

// ErrUnavailable marks an upstream rejected fast by an open breaker.
var ErrUnavailable = errors.New("upstream unavailable")

type UserFetcher interface {
	FetchUser(ctx context.Context, userID string) (models.User, error)
}

type UserService struct {
	cb         *circuitbreaker.Breaker
	baseUrl    string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewUserService(baseUrl string, cfg config.BreakerConfig, log zerolog.Logger) *UserService {
	return &UserService{
		cb: circuitbreaker.New(circuitbreaker.Settings{
			Name:           "user-service",
			ErrorThreshold: cfg.ErrorThreshold,
			ResetTimeout:   cfg.ResetTimeout,
			OnStateChange:  logStateChange(log),
		}),
		baseUrl: baseUrl,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

func (u *UserService) Breaker() *circuitbreaker.Breaker { return u.cb }

func (u *UserService) FetchUser(ctx context.Context, userID string) (models.User, error) {
	url := fmt.Sprintf("%s/users/%s", u.baseUrl, userID)
	result, err := u.cb.Execute(func() (interface{}, error) {
		return fetchJSON[models.User](ctx, u.httpClient, url)
	})
	if err != nil {
		u.log.Warn().Err(err).Str("user_id", userID).Msg("user lookup failed")
		return models.User{}, mapUpstreamErr("user-service", err)
	}
	user, ok := result.(*models.User)
	if !ok || user == nil {
		return models.User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return *user, nil
}

// fetchJSON performs one GET and decodes the body. A miss returns a
// nil record with no error so the breaker does not count client-side
// lookups against the upstream's health.
func fetchJSON[T any](ctx context.Context, client *http.Client, url string) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", url, err)
	}
	return &out, nil
}

func mapUpstreamErr(name string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", name, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", name, err)
}

func logStateChange(log zerolog.Logger) func(string, gobreaker.State, gobreaker.State) {
	return func(name string, from, to gobreaker.State) {
		log.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state change")
	}
}
