package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/pratiche/internal/agenda"
	"github.com/dukerupert/pratiche/internal/calendar"
	"github.com/dukerupert/pratiche/internal/completion"
	"github.com/dukerupert/pratiche/internal/config"
	"github.com/dukerupert/pratiche/internal/connectivity"
	"github.com/dukerupert/pratiche/internal/handler"
	"github.com/dukerupert/pratiche/internal/middleware"
	"github.com/dukerupert/pratiche/internal/mirror"
	"github.com/dukerupert/pratiche/internal/store"
	"github.com/dukerupert/pratiche/internal/tasks"
	ws "github.com/dukerupert/pratiche/internal/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Per-client throttle for routes that call Google or flush the outbox.
var upstreamLimit = middleware.Limit{Requests: 20, Window: time.Minute}

type Server struct {
	cfg         config.Config
	hub         *ws.Hub
	monitor     *connectivity.Monitor
	prober      *connectivity.Prober
	session     *calendar.Session
	gateway     *calendar.Gateway
	completion  *completion.Service
	agenda      *agenda.Service
	caseFiles   *store.CaseFileStore
	local       *store.LocalStore
	rateLimiter *middleware.RateLimiter

	eventH   *handler.EventHandler
	taskH    *handler.TaskHandler
	sessionH *handler.SessionHandler
	syncH    *handler.SyncHandler
	healthH  *handler.HealthHandler

	logger *slog.Logger
}

// New wires every component over the two databases: localDB for the
// device-local cache and outbox, documentsDB for case files and the
// per-user completion documents.
func New(cfg config.Config, localDB, documentsDB *sql.DB, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	local := store.NewLocalStore(localDB)
	caseFiles := store.NewCaseFileStore(documentsDB)
	remoteCompletions := store.NewCompletionStore(documentsDB)

	monitor := connectivity.NewMonitor(true)
	prober := connectivity.NewProber(cfg.ProbeURL, cfg.ProbeInterval, monitor, logger.With("component", "connectivity"))

	session := calendar.NewSession(calendar.SessionConfig{
		ClientID:        cfg.Google.ClientID,
		ClientSecret:    cfg.Google.ClientSecret,
		RedirectURL:     cfg.Google.RedirectURL,
		TokenPassphrase: cfg.Google.TokenPassphrase,
		APIEndpoint:     cfg.Google.APIEndpoint,
	}, local, logger.With("component", "calendar_session"))

	session.Subscribe(func(st calendar.Status) {
		hub.Notify("session", st.Auth, "", map[string]any{
			"email":   st.Email,
			"expired": st.Expired,
		})
	})

	gateway := calendar.NewGateway(calendar.NewGoogleEvents(session), session, cfg.CalendarIDs(), logger.With("component", "calendar"))

	completionSvc := completion.NewService(remoteCompletions, local, monitor, completion.Config{
		RemoteTimeout: cfg.RemoteTimeout,
		SyncInterval:  cfg.SyncInterval,
	}, logger.With("component", "completion"))

	mirrorSvc := mirror.New(caseFiles, mirror.Config{
		DefaultStep:       cfg.DefaultStep,
		PrimaryCalendarID: cfg.PrimaryCalendar,
	}, logger.With("component", "mirror"))

	taskSvc := tasks.NewService(gateway, caseFiles, completionSvc, cfg.PrimaryCalendar, logger.With("component", "tasks"))

	agendaSvc := agenda.NewService(gateway, mirrorSvc, completionSvc, taskSvc, session, hub, logger.With("component", "agenda"))

	return &Server{
		cfg:         cfg,
		hub:         hub,
		monitor:     monitor,
		prober:      prober,
		session:     session,
		gateway:     gateway,
		completion:  completionSvc,
		agenda:      agendaSvc,
		caseFiles:   caseFiles,
		local:       local,
		rateLimiter: middleware.NewRateLimiter(),

		eventH:   handler.NewEventHandler(agendaSvc, gateway, cfg.Calendars, cfg.PrimaryCalendar, logger.With("component", "event_handler")),
		taskH:    handler.NewTaskHandler(agendaSvc, logger.With("component", "task_handler")),
		sessionH: handler.NewSessionHandler(session, gateway, "/", logger.With("component", "session_handler")),
		syncH:    handler.NewSyncHandler(completionSvc, monitor, logger.With("component", "sync_handler")),
		healthH:  handler.NewHealthHandler(),

		logger: logger,
	}
}

func (s *Server) Session() *calendar.Session {
	return s.session
}

func (s *Server) Gateway() *calendar.Gateway {
	return s.gateway
}

func (s *Server) Completion() *completion.Service {
	return s.completion
}

func (s *Server) Agenda() *agenda.Service {
	return s.agenda
}

func (s *Server) Monitor() *connectivity.Monitor {
	return s.monitor
}

func (s *Server) LocalStore() *store.LocalStore {
	return s.local
}

func (s *Server) CaseFiles() *store.CaseFileStore {
	return s.caseFiles
}

// Start runs the background work of a long-lived process: bootstrap, the
// connectivity prober, the completion auto-sync loop and rate limiter
// pruning. The returned function stops all of it.
func (s *Server) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	// The persisted token is restored here; resolving the user earlier would
	// pick the configured default for a signed-in install.
	if err := s.session.EnsureReady(ctx); err != nil {
		s.logger.Warn("calendar client not ready", "error", err)
	}
	s.agenda.Bootstrap(ctx, s.ActingUser())

	if s.cfg.ProbeURL != "" {
		s.prober.Start(ctx)
	}

	signal, unsubscribe := s.monitor.Subscribe()
	stopSync := s.completion.SetupAutoSync(ctx, s.ActingUser, signal)

	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.rateLimiter.Prune()
			}
		}
	}()

	return func() {
		cancel()
		stopSync()
		unsubscribe()
		if s.cfg.ProbeURL != "" {
			s.prober.Stop()
		}
		<-done
	}
}

// ActingUser is the connected calendar account, else the configured user.
func (s *Server) ActingUser() string {
	if s.session.Authenticated() {
		if email := s.session.AccountEmail(); email != "" {
			return email
		}
	}
	return s.cfg.UserID
}

// stateSnapshot is the first websocket message of every tab.
func (s *Server) stateSnapshot() ws.Message {
	st := s.session.Status()
	return ws.NewMessage("sync", "state", "", map[string]any{
		"auth":    st.Auth,
		"email":   st.Email,
		"online":  s.monitor.Online(),
		"pending": s.completion.PendingCount(),
	})
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthH.Health)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, nil, s.stateSnapshot, s.logger.With("component", "websocket")))

	mux.HandleFunc("GET /auth/login", s.limited(s.sessionH.Login))
	mux.HandleFunc("GET /auth/callback", s.limited(s.sessionH.Callback))
	mux.HandleFunc("POST /auth/logout", s.sessionH.Logout)
	mux.HandleFunc("GET /api/session", s.sessionH.Status)

	mux.HandleFunc("GET /api/events", s.eventH.List)
	mux.HandleFunc("POST /api/events", s.limited(s.eventH.Create))
	mux.HandleFunc("PUT /api/events/{calendar}/{id}", s.limited(s.eventH.Update))
	mux.HandleFunc("DELETE /api/events/{calendar}/{id}", s.limited(s.eventH.Delete))

	mux.HandleFunc("GET /api/tasks", s.taskH.List)
	mux.HandleFunc("GET /api/tasks.ics", s.taskH.ICS)
	mux.HandleFunc("PUT /api/tasks/{id}/completion", s.taskH.SetCompletion)

	mux.HandleFunc("GET /api/sync", s.syncH.Status)
	mux.HandleFunc("POST /api/sync", s.limited(s.syncH.Flush))
	mux.HandleFunc("PUT /api/connectivity", s.syncH.SetConnectivity)

	logged := middleware.RequestLogger(s.logger.With("component", "http"))(mux)
	return middleware.Identify(s.session, s.cfg.UserID)(logged)
}

func (s *Server) limited(h http.HandlerFunc) http.HandlerFunc {
	return middleware.RateLimit(s.rateLimiter, upstreamLimit)(h).ServeHTTP
}
