// Package notify delivers report failure alerts to configured webhook
// destinations. Deliveries fan out concurrently and each destination gets
// retried with backoff; a failed alert is logged, never fatal.
package notify

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/go-pkgz/lgr"
	pkgznotify "github.com/go-pkgz/notify"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/go-pkgz/syncs"
)

// Service sends failure alerts. A nil *Service is a valid no-op, matching
// how the optional notifier is wired.
type Service struct {
	destinations []string
	webhook      *pkgznotify.Webhook
	repeat       *repeater.Repeater
	hostname     string
}

// New creates a notification service for the given webhook destinations.
// Returns nil when no destinations are configured.
func New(destinations []string, timeout time.Duration) *Service {
	if len(destinations) == 0 {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &Service{
		destinations: destinations,
		webhook: pkgznotify.NewWebhook(pkgznotify.WebhookParams{
			Timeout: timeout,
			Headers: []string{"Content-Type:application/json"},
		}),
		repeat:   repeater.New(&strategy.Backoff{Repeats: 3, Duration: 500 * time.Millisecond, Factor: 2}),
		hostname: hostname,
	}
}

// OnFailure sends a failure alert for the given report flavor to all
// destinations. Safe to call on a nil receiver.
func (s *Service) OnFailure(ctx context.Context, flavor string, cause error) {
	if s == nil {
		return
	}

	text := fmt.Sprintf(`{"service":"reportd","host":%q,"event":"report_failed","flavor":%q,"error":%q,"ts":%q}`,
		s.hostname, flavor, cause.Error(), time.Now().Format(time.RFC3339))

	wg := syncs.NewSizedGroup(4, syncs.Context(ctx))
	for _, destination := range s.destinations {
		wg.Go(func(ctx context.Context) {
			err := s.repeat.Do(ctx, func() error {
				return s.webhook.Send(ctx, destination, text)
			})
			if err != nil {
				log.Printf("[WARN] failed to notify %s: %v", destination, err)
			}
		})
	}
	wg.Wait()
}
