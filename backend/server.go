// Package backend is a self-contained implementation of the chat server the
// client talks to: accounts, conversations, uploaded images and the push hub.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/puyokura/vibechat/model"
)

const (
	cookieName     = "jwt"
	maxUploadBytes = 12 << 20
)

type ctxKey struct{}

// Server routes the HTTP API, media downloads and the websocket endpoint.
type Server struct {
	store     *Store
	tokens    *Tokens
	hub       *Hub
	publicURL string
	logger    *slog.Logger
	router    chi.Router
}

// Options configure a Server.
type Options struct {
	// PublicURL prefixes media references; empty yields host-relative paths.
	PublicURL string
	Logger    *slog.Logger
}

func NewServer(store *Store, tokens *Tokens, hub *Hub, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:     store,
		tokens:    tokens,
		hub:       hub,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		logger:    logger.With("component", "http"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/auth/check", s.handleCheck)
			r.Post("/auth/updateProfile", s.handleUpdateProfile)
			r.Get("/message/user", s.handleContacts)
			r.Get("/message/{id}", s.handleHistory)
			r.Post("/message/send/{id}", s.handleSend)
		})
	})

	r.Get("/media/{id}", s.handleMedia)
	r.With(s.requireAuth).Get("/ws", s.handleWS)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(cookieName)
		if err != nil || cookie.Value == "" {
			s.sendJSONError(w, http.StatusUnauthorized, "Unauthorized - No Token Provided")
			return
		}
		userID, err := s.tokens.Verify(cookie.Value)
		if err != nil {
			s.sendJSONError(w, http.StatusUnauthorized, "Unauthorized - Invalid Token")
			return
		}
		user, err := s.store.GetUser(r.Context(), userID)
		if err != nil || !user.IsActive {
			s.sendJSONError(w, http.StatusUnauthorized, "Unauthorized - User not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

func currentUser(r *http.Request) model.Identity {
	user, _ := r.Context().Value(ctxKey{}).(model.Identity)
	return user
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req model.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.store.CreateUser(r.Context(), req)
	if errors.Is(err, ErrEmailTaken) {
		s.sendJSONError(w, http.StatusBadRequest, "Email already exists")
		return
	}
	if err != nil {
		s.internalError(w, "creating user", err)
		return
	}

	if err := s.setSession(w, r, user.ID); err != nil {
		s.internalError(w, "issuing token", err)
		return
	}
	s.logger.Info("user signed up", "user_id", user.ID)
	s.writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := s.store.Authenticate(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		s.sendJSONError(w, http.StatusBadRequest, "Invalid credentials")
		return
	case errors.Is(err, ErrInactive):
		s.sendJSONError(w, http.StatusForbidden, "Account is disabled")
		return
	case err != nil:
		s.internalError(w, "authenticating", err)
		return
	}

	if err := s.setSession(w, r, user.ID); err != nil {
		s.internalError(w, "issuing token", err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	s.writeJSON(w, http.StatusOK, model.ErrorResponse{Message: "Logged out successfully"})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, currentUser(r))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "Invalid upload")
		return
	}
	ref, ok, err := s.storeUpload(r, user.ID, "avatar")
	if err != nil {
		s.uploadError(w, err)
		return
	}
	if !ok {
		s.sendJSONError(w, http.StatusBadRequest, "Profile pic is required")
		return
	}

	if err := s.store.SetProfilePic(r.Context(), user.ID, ref); err != nil {
		s.internalError(w, "updating profile", err)
		return
	}
	s.writeJSON(w, http.StatusOK, model.ProfileResponse{ProfilePic: ref})
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.store.ListContacts(r.Context(), currentUser(r).ID)
	if err != nil {
		s.internalError(w, "listing contacts", err)
		return
	}
	s.writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.Conversation(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		s.internalError(w, "loading conversation", err)
		return
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	sender := currentUser(r)
	receiverID := chi.URLParam(r, "id")

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "Invalid message body")
		return
	}
	text := strings.TrimSpace(r.FormValue("text"))

	if _, err := s.store.GetUser(r.Context(), receiverID); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "User not found")
			return
		}
		s.internalError(w, "looking up receiver", err)
		return
	}

	image, hasImage, err := s.storeUpload(r, sender.ID, "image")
	if err != nil {
		s.uploadError(w, err)
		return
	}
	if text == "" && !hasImage {
		s.sendJSONError(w, http.StatusBadRequest, "Message must contain text or an image")
		return
	}

	msg, err := s.store.CreateMessage(r.Context(), sender.ID, receiverID, text, image)
	if err != nil {
		s.internalError(w, "creating message", err)
		return
	}
	s.hub.Deliver(msg)
	s.writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	contentType, data, err := s.store.GetMedia(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "Not found")
		return
	}
	if err != nil {
		s.internalError(w, "loading media", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.Write(data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if r.URL.Query().Get("userId") != user.ID {
		s.sendJSONError(w, http.StatusForbidden, "userId does not match session")
		return
	}
	s.hub.ServeWS(w, r, user.ID)
}

var errNotImage = errors.New("upload is not an image")

// storeUpload saves the multipart file in field, if present, and returns its
// media reference.
func (s *Server) storeUpload(r *http.Request, ownerID, field string) (string, bool, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer file.Close()

	data, contentType, err := readImage(file, header)
	if err != nil {
		return "", false, err
	}
	id, err := s.store.SaveMedia(r.Context(), ownerID, contentType, data)
	if err != nil {
		return "", false, err
	}
	return s.publicURL + "/media/" + id, true, nil
}

func readImage(file multipart.File, header *multipart.FileHeader) ([]byte, string, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", errNotImage
	}
	return data, contentType, nil
}

func (s *Server) uploadError(w http.ResponseWriter, err error) {
	if errors.Is(err, errNotImage) {
		s.sendJSONError(w, http.StatusBadRequest, "Only image uploads are allowed")
		return
	}
	s.internalError(w, "storing upload", err)
}

func (s *Server) setSession(w http.ResponseWriter, r *http.Request, userID string) error {
	token, err := s.tokens.Generate(userID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("writing response", "error", err)
	}
}

// sendJSONError writes the error body the client surfaces to the user.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, model.ErrorResponse{Message: message})
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what, "error", err)
	s.sendJSONError(w, http.StatusInternalServerError, "Internal Server Error")
}
