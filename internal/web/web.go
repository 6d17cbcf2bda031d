// Package web serves the server-rendered pages: login, program dashboards,
// burndown charts, exports and the initiative autosave endpoint.
package web

import (
	"context"
	"crypto/sha256"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/csrf"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"neuron/internal/autosave"
	"neuron/internal/domain"
	"neuron/internal/engine"
	"neuron/internal/engine/auth"
)

const (
	sessionName  = "neuron-session"
	keyUserID    = "user_id"
	keySessionID = "sid"
	sessionAge   = 7 * 24 * time.Hour
)

type Config struct {
	Engine engine.Engine
	Auth   auth.Service
	// SessionKey and CSRFKey are hashed to 32-byte keys. Empty keys are
	// generated per process, which logs everyone out on restart.
	SessionKey     string
	CSRFKey        string
	SecureCookies  bool
	AutosaveSettle time.Duration
	Logger         *zap.Logger
}

type Handler struct {
	engine    engine.Engine
	auth      auth.Service
	store     *sessions.CookieStore
	autosave  *autosave.Registry
	templates *template.Template
	logger    *zap.Logger
}

type sessionKey struct{}

type session struct {
	UserID string
	ID     string
}

// New builds the page router.
func New(cfg Config) (http.Handler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	sessionSecret, err := deriveKey(cfg.SessionKey, logger, "session")
	if err != nil {
		return nil, err
	}
	csrfSecret, err := deriveKey(cfg.CSRFKey, logger, "csrf")
	if err != nil {
		return nil, err
	}
	store := sessions.NewCookieStore(sessionSecret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionAge.Seconds()),
		Secure:   cfg.SecureCookies,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	h := &Handler{
		engine:    cfg.Engine,
		auth:      cfg.Auth,
		store:     store,
		autosave:  autosave.NewRegistry(cfg.AutosaveSettle).WithExpiry(sessionAge),
		templates: tmpl,
		logger:    logger.Named("web"),
	}

	protect := csrf.Protect(csrfSecret,
		csrf.Secure(cfg.SecureCookies),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.logger.Warn("csrf rejected", zap.String("path", r.URL.Path), zap.Error(csrf.FailureReason(r)))
			http.Error(w, "CSRF token invalid or missing", http.StatusForbidden)
		})),
	)

	r := chi.NewRouter()
	if !cfg.SecureCookies {
		// Without TLS the origin checks must treat requests as plain HTTP.
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, csrf.PlaintextHTTPRequest(req))
			})
		})
	}
	r.Use(protect)

	r.Get("/login", h.loginPage)
	r.Post("/login", h.login)
	r.Group(func(r chi.Router) {
		r.Use(h.requireLogin)
		r.Post("/logout", h.logout)
		r.Get("/", h.programsPage)
		r.Get("/programs/{id}", h.programPage)
		r.Post("/programs/{id}/snapshot", h.takeSnapshot)
		r.Get("/programs/{id}/burndown", h.burndownPage)
		r.Get("/programs/{id}/export.csv", h.exportSnapshotsCSV)
		r.Get("/programs/{id}/export.parquet", h.exportSnapshotsParquet)
		r.Get("/programs/{id}/costs.csv", h.exportCostsCSV)
		r.Get("/programs/{id}/docs/{doc}", h.documentPage)
		r.Post("/initiatives/{id}/field", h.saveField)
		r.Get("/autosave", h.autosaveStatus)
	})
	return r, nil
}

func deriveKey(secret string, logger *zap.Logger, name string) ([]byte, error) {
	if secret == "" {
		logger.Warn("no key configured; generated one for this process", zap.String("key", name))
		key := securecookie.GenerateRandomKey(32)
		if key == nil {
			return nil, errors.New("generate " + name + " key")
		}
		return key, nil
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:], nil
}

func (h *Handler) requireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := h.store.Get(r, sessionName)
		if err != nil {
			h.logger.Debug("discarding unreadable session", zap.Error(err))
		}
		userID, _ := s.Values[keyUserID].(string)
		sid, _ := s.Values[keySessionID].(string)
		if userID == "" || sid == "" {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, session{UserID: userID, ID: sid})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func currentSession(r *http.Request) session {
	s, _ := r.Context().Value(sessionKey{}).(session)
	return s
}

type loginView struct {
	CSRF  template.HTML
	Email string
	Error string
}

func (h *Handler) loginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "login.html", loginView{CSRF: csrf.TemplateField(r)})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")
	user, err := h.auth.Verify(r.Context(), email, r.PostFormValue("password"))
	if err != nil {
		status := http.StatusUnauthorized
		msg := "Email or password is incorrect."
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			status = errStatus(err)
			msg = "Sign-in is unavailable right now."
			h.logger.Error("login failed", zap.Error(err))
		}
		h.render(w, status, "login.html", loginView{CSRF: csrf.TemplateField(r), Email: email, Error: msg})
		return
	}
	s, _ := h.store.Get(r, sessionName)
	s.Values[keyUserID] = user.ID
	s.Values[keySessionID] = uuid.NewString()
	if err := s.Save(r, w); err != nil {
		h.logger.Error("save session", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("signed in", zap.String("user_id", user.ID))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.autosave.Drop(currentSession(r).ID)
	s, _ := h.store.Get(r, sessionName)
	s.Values = map[any]any{}
	s.Options.MaxAge = -1
	if err := s.Save(r, w); err != nil {
		h.logger.Warn("clear session", zap.Error(err))
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// errStatus maps engine errors onto HTTP statuses for pages.
func errStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	http.Error(w, http.StatusText(status)+": "+err.Error(), status)
}
