package arena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/putto11262002/arena/core"
	"github.com/putto11262002/arena/pkg/router"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config      *Config
	db          *core.SQLiteDB
	context     context.Context
	cancel      context.CancelFunc
	server      *http.Server
	logger      *slog.Logger
	router      *router.Router
	eventRouter *core.EventRouter
	wsManager   *core.ConnManager

	conversationStore   core.ConversationStore
	conversationHandler *ConversationHandler

	cleanupFuncs []func(context.Context)

	listenOnce   sync.Once
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

type Option func(*App)

// WithLogger replaces the default text logger writing to stdout.
func WithLogger(logger *slog.Logger) Option {
	return func(app *App) {
		app.logger = logger
	}
}

// NewLogger is the default logger of the app. Source locations are reduced to the file name.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))
}

// New wires the conversation server. When ctx is nil the app stops on SIGINT, SIGTERM,
// SIGQUIT or SIGHUP. When config is nil it is loaded with LoadConfig.
func New(ctx context.Context, config *Config, opts ...Option) (*App, error) {
	var err error
	app := &App{}
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context, app.cancel = context.WithCancel(ctx)

	if config == nil {
		config, err = LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%s", FormatValidationErrors(err))
	}
	app.config = config

	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger = NewLogger(config.Log.Level)
	}

	sqliteOptions := &core.SQLiteDBOption{
		Mode:        "rwc",
		Cache:       "shared",
		JournalMode: "WAL",
		ForeignKeys: true,
	}
	app.db, err = core.NewSQLiteDB(app.config.SQLite.File, app.config.SQLite.Migrations, sqliteOptions)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		app.db.Close()
	})
	if err := app.db.Migrate(); err != nil {
		app.db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	app.conversationStore = core.NewSQLiteConversationStore(app.db.DB)

	app.wsManager = core.NewConnManager(app.context, &app.wg, app.logger,
		core.WithCheckOrigin(originChecker(app.config.AllowedOrigins)),
		core.WithStreamSize(app.config.WS.ReadStreamSize, app.config.WS.WriteStreamSize))
	app.wsManager.OnUserConnected(app.onUserConnect)
	app.wsManager.OnUserDisconnected(app.onUserDisconnect)
	app.wsManager.OnConnectionOpened(app.onConnectionOpen)
	app.wsManager.OnConnectionClosed(app.onConnectionClose)
	app.AddCleanupFunc(func(ctx context.Context) {
		app.wsManager.Close()
	})

	app.eventRouter = core.NewEventRouter(app.logger, app.wsManager)
	app.eventRouter.On(core.EventRoomJoin, app.RoomJoinHandler)
	app.eventRouter.On(core.EventMessageSend, app.MessageSendHandler)
	app.eventRouter.On(core.EventMessageTyping, app.MessageTypingHandler)

	app.conversationHandler = NewConversationHandler(app.conversationStore)
	authMiddleware := core.JWTMiddleware(app.config.Auth.Secret)

	app.router = router.New(router.WithLogger(app.logger))

	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	app.router.With(authMiddleware).Router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		session := core.SessionFromRequest(r)
		if err := app.wsManager.Connect(session.UID, w, r); err != nil {
			app.logger.Warn(fmt.Sprintf("connect %s: %s", session.UID, err))
		}
	})

	api := router.New(router.WithLogger(app.logger))
	api.MapErrorTo(core.ErrInvalidRoom, http.StatusNotFound)
	api.MapErrorTo(core.ErrMessageNotFound, http.StatusNotFound)
	api.MapErrorTo(core.ErrInvalidTopic, http.StatusBadRequest)
	api.MapErrorTo(core.ErrInvalidMessage, http.StatusBadRequest)
	api.MapErrorTo(core.ErrInvalidCursor, http.StatusBadRequest)
	api.MapErrorTo(core.ErrInvalidComment, http.StatusBadRequest)

	api.Group(func(r *router.Router) {
		r.Use(authMiddleware)
		r.Post("/rooms", app.conversationHandler.CreateRoomHandler)
		r.Route("/rooms/{roomID}", func(r *router.Router) {
			r.Get("/", app.conversationHandler.GetRoomHandler)
			r.Get("/messages", app.conversationHandler.GetMessagesHandler)
			r.Route("/messages/{messageID}", func(r *router.Router) {
				r.Get("/", app.conversationHandler.GetMessageHandler)
				r.Patch("/like", app.conversationHandler.ToggleLikeHandler)
				r.Get("/comments", app.conversationHandler.GetCommentsHandler)
				r.Post("/comments", app.conversationHandler.UpsertCommentHandler)
				r.Post("/view", app.conversationHandler.RecordViewHandler)
			})
		})
	})

	app.router.Mount("/api", api)

	app.server = &http.Server{
		Addr:              app.config.Addr(),
		Handler:           app.router.Router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}
	if app.config.TLSEnabled() {
		app.server.TLSConfig = tlsConfig()
	}
	// registered last so that it runs first
	app.AddCleanupFunc(func(ctx context.Context) {
		app.server.Shutdown(ctx)
	})

	return app, nil
}

// originChecker allows websocket upgrades from the allowed origins. A "*" entry allows any
// origin, requests without an Origin header are not from a browser and are allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// listen starts dispatching websocket events. It is safe to call more than once.
func (app *App) listen() {
	app.listenOnce.Do(func() {
		app.wg.Add(1)
		go app.eventRouter.Listen(app.context, &app.wg)
	})
}

// Handler starts dispatching websocket events and returns the root handler, for serving
// the app with a server other than the one started by Start.
func (app *App) Handler() http.Handler {
	app.listen()
	return app.router.Router
}

func (app *App) Logger() *slog.Logger {
	return app.logger
}

// Start serves until the app context is done or the server fails, then shuts down.
func (app *App) Start() error {
	app.listen()
	app.logger.Info(fmt.Sprintf("app running on %s (tls: %t)", app.config.Addr(), app.config.TLSEnabled()))

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if app.config.TLSEnabled() {
			err = app.server.ListenAndServeTLS(app.config.TLS.Crt, app.config.TLS.Key)
		} else {
			err = app.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	var err error
	select {
	case <-app.context.Done():
	case err = <-serveErr:
		if err != nil {
			err = fmt.Errorf("server error: %w", err)
		}
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	return errors.Join(err, app.Shutdown(closeCtx))
}

// Shutdown stops the app and runs the cleanup functions, the last added first.
// It returns an error when ctx is done before every goroutine of the app returned.
func (app *App) Shutdown(ctx context.Context) error {
	var err error
	app.shutdownOnce.Do(func() {
		app.cancel()
		for _, f := range slices.Backward(app.cleanupFuncs) {
			f(ctx)
		}

		done := make(chan struct{})
		go func() {
			app.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			app.logger.Info("app shutdown gracefully")
		case <-ctx.Done():
			app.logger.Info("app shutdown timed out")
			err = fmt.Errorf("shutdown: %w", ctx.Err())
		}
	})
	return err
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}
