package telegram

import (
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/nalunchbot/core/config"
	"github.com/m3rciful/nalunchbot/core/telegram/middleware"
)

// DefaultMiddlewares builds the shared middleware chain: recover first, then
// the chat allow-list, then the optional rate limiter, then logging and
// message counters.
func DefaultMiddlewares(cfg *coreconfig.Config, onLimited func(tele.Context) error) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
	}

	if cfg != nil {
		mws = append(mws, Middleware{
			Name: "access",
			Use:  middleware.AllowListMiddleware(middleware.AccessOptions{Allowed: cfg.AllowedChats()}),
		})

		interval := time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond
		if interval > 0 {
			ex := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates)+1)
			for _, t := range cfg.RateLimit.ExcludeUpdates {
				ex[strings.ToLower(t)] = struct{}{}
			}
			// Album photos arrive as a burst of separate updates; limiting
			// them would truncate every batch.
			ex["photo"] = struct{}{}
			opts := middleware.RateLimitOptions{
				Interval: interval,
				Exclude:  ex,
			}
			if onLimited != nil {
				opts.OnLimited = onLimited
			}
			mws = append(mws, Middleware{
				Name: "rate_limit",
				Use:  middleware.RateLimitMiddleware(opts),
			})
		}
	}

	mws = append(mws,
		Middleware{Name: "logger", Use: middleware.LoggerMiddleware},
		Middleware{Name: "metrics", Use: middleware.MessageMetricsMiddleware},
	)

	return mws
}
