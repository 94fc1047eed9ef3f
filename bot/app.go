// Package bot wires the purchase flow engine to the Telegram transport.
package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/nalunchbot/barcode"
	"github.com/m3rciful/nalunchbot/bot/flow"
	"github.com/m3rciful/nalunchbot/catalog"
	coreconfig "github.com/m3rciful/nalunchbot/core/config"
	"github.com/m3rciful/nalunchbot/core/logger"
	"github.com/m3rciful/nalunchbot/core/metrics"
	tg "github.com/m3rciful/nalunchbot/core/telegram"
	"github.com/m3rciful/nalunchbot/core/telegram/router"
	"github.com/m3rciful/nalunchbot/history"
	"github.com/m3rciful/nalunchbot/mediagroup"
	"github.com/m3rciful/nalunchbot/nalunch"
)

// App is the assembled bot: vendor accounts, the flow engine, and the photo
// batch aggregator, ready to be attached to the Telegram runtime.
type App struct {
	cfg      *coreconfig.Config
	accounts []*nalunch.Account
	machine  *flow.Machine
	sessions *flow.Store
	agg      *mediagroup.Aggregator[flow.Photo]
	repo     *history.Repo

	// bot is set once the Telegram runtime starts; photo downloads need it.
	bot *tele.Bot
	// openFile fetches photo bytes by file id, through the live bot handle.
	// Tests substitute a stub.
	openFile func(fileID string) (io.ReadCloser, error)
}

// CoreConfig exposes the embedded core configuration.
func (a *App) CoreConfig() *coreconfig.Config { return a.cfg }

// historyRecorder adapts the history repository to the flow engine. A failed
// insert only loses the audit row; the payment already went through, so the
// error is logged and swallowed.
type historyRecorder struct {
	repo *history.Repo
}

func (r historyRecorder) Record(ctx context.Context, s flow.Settlement) {
	err := r.repo.Record(ctx, history.Payment{
		ChatID:   s.Key.ChatID,
		UserID:   s.Key.UserID,
		Account:  s.Account,
		Kind:     s.Kind,
		DeviceID: s.DeviceID,
		Amount:   s.Amount,
		Items:    s.Items,
	})
	if err != nil {
		logger.Error(ctx, "db", "payment.record",
			slog.String("account", s.Account),
			slog.String("err", err.Error()),
		)
	}
}

// Build assembles the application from configuration. db may be nil when
// history storage is not configured.
func Build(cfg *coreconfig.Config, db *sqlx.DB) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bot: nil config")
	}

	client := nalunch.NewClient(cfg.Nalunch.BaseURL,
		nalunch.WithRefreshInterval(cfg.Nalunch.TokenRefreshInterval),
	)

	accounts := make([]*nalunch.Account, 0, len(cfg.Accounts))
	flowAccounts := make([]flow.AccountClient, 0, len(cfg.Accounts))
	for _, acc := range cfg.Accounts {
		account := nalunch.NewAccount(client, nalunch.Credentials{
			Name:     acc.Name,
			Username: acc.Username,
			Password: acc.Password,
		})
		accounts = append(accounts, account)
		flowAccounts = append(flowAccounts, account)
	}

	devices := make([]flow.Device, 0, len(cfg.VendingDevices))
	for _, dev := range cfg.VendingDevices {
		devices = append(devices, flow.Device{
			ID:   strconv.Itoa(dev.ID),
			Name: dev.Name,
		})
	}

	// Product lists are account-independent; the first account's session is
	// used for catalog fetches.
	catalogAccount := accounts[0]
	cache := catalog.New(cfg.Flow.CatalogTTL, func(ctx context.Context, deviceID string) ([]nalunch.Product, error) {
		return catalogAccount.GetVendingProducts(ctx, deviceID)
	})

	var (
		repo     *history.Repo
		recorder flow.Recorder
	)
	if db != nil {
		repo = history.NewRepo(db)
		recorder = historyRecorder{repo: repo}
	}

	app := &App{
		cfg:      cfg,
		accounts: accounts,
		machine:  flow.NewMachine(flowAccounts, devices, cache, barcode.NewZXing(), recorder),
		sessions: flow.NewStore(),
		agg:      mediagroup.New[flow.Photo](cfg.Flow.MediaDebounce),
		repo:     repo,
	}
	app.openFile = func(fileID string) (io.ReadCloser, error) {
		return app.bot.File(&tele.File{FileID: fileID})
	}
	return app, nil
}

// releaseIdle drops a session that returned to idle from the store, so
// finished conversations do not accumulate.
func (a *App) releaseIdle(key flow.Key, state flow.State) {
	if state != flow.StateIdle {
		return
	}
	a.sessions.Delete(key)
	logger.Debug(context.Background(), "flow", "flow.session.release",
		slog.Int64("chat_id", key.ChatID),
		slog.Int64("user_id", key.UserID),
		slog.Int("sessions", a.sessions.Len()),
	)
}

// TelegramRunOptions builds the runtime wiring: registry, middleware chain,
// and routes for commands, callbacks, text, and photos.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	reg := tg.NewRegistry()
	a.registerCommands(reg)
	if err := a.registerCallbacks(reg); err != nil {
		return tg.RunOptions{}, err
	}

	routes := router.CommandRoutes(reg)
	routes = append(routes, router.TextRoutes(reg, router.TextOptions{})...)
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))
	routes = append(routes, router.PhotoRoute(a.handlePhoto))

	return tg.RunOptions{
		Config:      a.cfg,
		Registry:    reg,
		Middlewares: tg.DefaultMiddlewares(a.cfg, nil),
		Routes:      routes,
		OnStart: func(ctx context.Context, rt tg.Runtime) error {
			a.bot = rt.Bot
			metrics.Register()
			metrics.Serve(ctx, a.cfg.Metrics.Listen)
			for _, account := range a.accounts {
				if err := account.Login(ctx); err != nil {
					return fmt.Errorf("bot: login %q: %w", account.Name(), err)
				}
			}
			return nil
		},
	}, nil
}

func (a *App) key(c tele.Context) flow.Key {
	key := flow.Key{}
	if chat := c.Chat(); chat != nil {
		key.ChatID = chat.ID
	}
	if user := c.Sender(); user != nil {
		key.UserID = user.ID
	}
	return key
}
