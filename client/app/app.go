package app

import (
	"context"
	"net/url"
	"os"

	"github.com/redis/go-redis/v9"

	"carexpert/client/realtime"
	"carexpert/client/service"
	"carexpert/client/session"
	commonlog "carexpert/common/log"
)

// App wires the client stack together: REST client, realtime connection,
// chat controller and session synchronization.
type App struct {
	Config   Config
	API      *service.APIClient
	Router   *realtime.Router
	Conn     *realtime.Manager
	Chats    *service.Controller
	Sessions *session.Store
	Sync     *session.Synchronizer

	detach func()
	rdb    *redis.Client
}

func New(cfg Config, notify service.Notifier, onExpired func(reason string)) *App {
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		commonlog.Warnf("event=app action=state_dir status=failed path=%s error=%v", cfg.StateDir, err)
	}

	api := service.NewAPIClient(cfg.APIURLs...)
	router := realtime.NewRouter()
	conn := realtime.NewManager(cfg.WSURL, nil, router)
	store := session.NewStore(api, cfg.StateDir)
	chats := service.NewController(api, conn, store, notify)
	chats.SetLanguage(cfg.Language)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	broadcast := session.NewBroadcaster(rdb, cfg.StateDir)
	synchronizer := session.NewSynchronizer(store, conn, chats, broadcast, onExpired)
	api.OnUnauthorized(synchronizer.HandleSessionExpiry)

	a := &App{
		Config:   cfg,
		API:      api,
		Router:   router,
		Conn:     conn,
		Chats:    chats,
		Sessions: store,
		Sync:     synchronizer,
		rdb:      rdb,
	}
	a.detach = chats.Attach(router)
	return a
}

// Start restores any persisted session and begins listening for logout
// signals from the user's other clients.
func (a *App) Start(ctx context.Context) error {
	a.Sessions.Restore()
	if err := a.Sync.Start(ctx); err != nil {
		return err
	}
	if a.Sessions.CurrentUser() != nil {
		a.ConnectRealtime(ctx)
	}
	return nil
}

// ConnectRealtime dials the websocket with the current access token. Dial
// failures are logged, not fatal; the next send surfaces the condition.
func (a *App) ConnectRealtime(ctx context.Context) {
	a.Conn.SetURL(wsURLWithToken(a.Config.WSURL, a.API.Token()))
	if err := a.Conn.Connect(ctx); err != nil {
		commonlog.Warnf("event=realtime_conn action=dial status=failed error=%v", err)
	}
}

func wsURLWithToken(raw, token string) string {
	if token == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (a *App) Shutdown() {
	a.Sync.Stop()
	if a.detach != nil {
		a.detach()
	}
	a.Conn.Disconnect()
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}
