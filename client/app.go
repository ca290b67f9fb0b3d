package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/puyokura/vibechat/api"
	"github.com/puyokura/vibechat/chat"
	"github.com/puyokura/vibechat/compose"
	"github.com/puyokura/vibechat/config"
	"github.com/puyokura/vibechat/media"
	"github.com/puyokura/vibechat/notify"
	"github.com/puyokura/vibechat/presence"
	"github.com/puyokura/vibechat/session"
	"github.com/puyokura/vibechat/transport"
)

// app wires the client components together. The UI only talks to these.
type app struct {
	cfg      config.ClientConfig
	api      *api.Client
	notes    *notify.Queue
	presence *presence.Tracker
	session  *session.Manager
	chat     *chat.Store
	selector *chat.Selector
	draft    *compose.Draft
	logger   *slog.Logger
	now      func() time.Time
}

func newApp(cfg config.ClientConfig, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := api.New(cfg.APIURL, api.WithLogger(logger), api.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		return nil, fmt.Errorf("creating api client: %w", err)
	}

	notes := notify.NewQueue(32)
	tracker := presence.NewTracker()
	pipeline := media.New(cfg.Media)

	store := chat.NewStore(client, notes, logger)
	selector := chat.NewSelector(store, chat.NewRouter(store, logger))

	mgr := session.NewManager(session.Deps{
		Auth:     client,
		Dial:     transport.WebSocketDialer(cfg.PushURL, client.Jar(), logger),
		Presence: tracker,
		Media:    pipeline,
		Notifier: notes,
		Logger:   logger,
	})
	mgr.Bind(selector)

	return &app{
		cfg:      cfg,
		api:      client,
		notes:    notes,
		presence: tracker,
		session:  mgr,
		chat:     store,
		selector: selector,
		draft:    compose.NewDraft(pipeline, cfg.Media.MaxInputBytes, notes),
		logger:   logger.With("component", "tui"),
		now:      time.Now,
	}, nil
}

// close releases what outlives the UI: the push connection and any preview file.
func (a *app) close() {
	a.session.Disconnect()
	if err := a.draft.Reset(); err != nil {
		a.logger.Debug("releasing preview", "error", err)
	}
}
