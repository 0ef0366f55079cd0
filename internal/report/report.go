package report

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"notifygate/internal/queue"
	"notifygate/pkg/circuitbreaker"
)

// Reporter logs a periodic snapshot of queue depths and breaker
// states so operators can spot a stuck retry cycle without broker
// tooling.
type Reporter struct {
	cron     *cron.Cron
	broker   *queue.RabbitMqClient
	breakers []*circuitbreaker.Breaker
	queues   []string
	log      zerolog.Logger
}

func New(broker *queue.RabbitMqClient, breakers []*circuitbreaker.Breaker, queues []string, log zerolog.Logger) *Reporter {
	return &Reporter{
		cron:     cron.New(),
		broker:   broker,
		breakers: breakers,
		queues:   queues,
		log:      log,
	}
}

func (r *Reporter) Start(schedule string) error {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if _, err := r.cron.AddFunc(schedule, r.snapshot); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

func (r *Reporter) Stop() {
	r.cron.Stop()
}

func (r *Reporter) snapshot() {
	event := r.log.Info()
	for _, q := range r.queues {
		depth, err := r.broker.QueueDepth(q)
		if err != nil {
			r.log.Warn().Err(err).Str("queue", q).Msg("queue depth unavailable")
			continue
		}
		event = event.Int("depth."+q, depth)
	}
	for _, b := range r.breakers {
		event = event.Str("breaker."+b.Name(), b.Stats().State)
	}
	event.Msg("pipeline snapshot")
}
