package middleware

import (
	"fmt"

	tele "gopkg.in/telebot.v4"
)

// AccessOptions configures the chat allow-list check.
type AccessOptions struct {
	// Allowed is the set of chat IDs the bot serves. An empty set rejects
	// everything; the allow-list is mandatory for a payment bot.
	Allowed map[int64]struct{}
	// OnReject overrides the default rejection reply.
	OnReject tele.HandlerFunc
}

// AllowListMiddleware rejects every update whose chat is not on the
// allow-list before any handler runs.
func AllowListMiddleware(opts AccessOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			if chat == nil {
				return nil
			}
			if _, ok := opts.Allowed[chat.ID]; ok {
				return next(c)
			}
			if opts.OnReject != nil {
				return opts.OnReject(c)
			}
			return c.Send(fmt.Sprintf("Unknown chat id: %d!", chat.ID))
		}
	}
}
