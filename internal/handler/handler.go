// Package handler содержит HTTP-обработчики API сервиса bchgate.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/bchgate-system/internal/middleware"
	"github.com/mmeshcher/bchgate-system/internal/model"
	"github.com/mmeshcher/bchgate-system/internal/pricing"
	"github.com/mmeshcher/bchgate-system/internal/repository"
	"github.com/mmeshcher/bchgate-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, email, password, name string) (*model.User, string, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, string, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	UpdateProfile(ctx context.Context, id int64, name, password string) error
	DeleteUser(ctx context.Context, id int64) error
	GetOperationsByUser(ctx context.Context, userID int64) ([]model.Operation, error)
	RefreshCredit(ctx context.Context, userID int64) (float64, error)
	IssueToken(ctx context.Context, userID int64, apiLevel int) (string, error)
	ValidateToken(ctx context.Context, tokenString string) (isValid bool, apiLevel int)
}

// Handler реализует HTTP-обработчики API сервиса bchgate.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type userResponse struct {
	ID          int64   `json:"id"`
	Email       string  `json:"email"`
	Name        string  `json:"name,omitempty"`
	BCHAddr     string  `json:"bchAddr"`
	HDIndex     int64   `json:"hdIndex"`
	Credit      float64 `json:"credit"`
	APILevel    int     `json:"apiLevel"`
	APITokenExp string  `json:"apiTokenExp,omitempty"`
}

func toUserResponse(u *model.User) userResponse {
	resp := userResponse{
		ID:       u.ID,
		Email:    u.Email,
		Name:     u.Name,
		BCHAddr:  u.BCHAddr,
		HDIndex:  u.HDIndex,
		Credit:   u.Credit(),
		APILevel: u.APILevel,
	}
	if u.APIToken != "" {
		resp.APITokenExp = u.APITokenExp.Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	u, session, err := h.service.RegisterUser(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":  toUserResponse(u),
		"token": session,
	})
}

// Login выполняет аутентификацию пользователя и возвращает токен сессии.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, session, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":  toUserResponse(u),
		"token": session,
	})
}

// GetUser возвращает профиль текущего пользователя.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	u, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get user error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(u)})
}

type updateProfileRequest struct {
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
}

// UpdateUser обновляет профиль текущего пользователя.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateProfile(r.Context(), userID, req.Name, req.Password); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("update user error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteUser удаляет аккаунт текущего пользователя вместе с действующим API-токеном.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.service.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("delete user error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetOperations возвращает историю изменений кредита текущего пользователя.
func (h *Handler) GetOperations(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	ops, err := h.service.GetOperationsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get operations error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(ops) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, ops)
}

// GetBCHAddr возвращает депозитный адрес текущего пользователя.
func (h *Handler) GetBCHAddr(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	u, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get bch addr error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"bchAddr": u.BCHAddr})
}

// UpdateCredit сверяет депозитный адрес с блокчейном и возвращает актуальный кредит.
func (h *Handler) UpdateCredit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	credit, err := h.service.RefreshCredit(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrBalanceUnavailable), errors.Is(err, service.ErrPriceUnavailable):
			h.logger.Warn("credit refresh upstream failure", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		default:
			h.logger.Error("update credit error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]float64{"credit": credit})
}

type newTokenRequest struct {
	APILevel *int `json:"apiLevel"`
}

// NewToken выдаёт текущему пользователю API-токен запрошенного уровня.
func (h *Handler) NewToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req newTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APILevel == nil {
		http.Error(w, "apiLevel must be an integer number", http.StatusUnprocessableEntity)
		return
	}

	apiToken, err := h.service.IssueToken(r.Context(), userID, *req.APILevel)
	if err != nil {
		switch {
		case errors.Is(err, pricing.ErrUnknownTier):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrInsufficientCredit):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("issue token error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"apiToken": apiToken})
}

type isValidResponse struct {
	IsValid  bool `json:"isValid"`
	APILevel int  `json:"apiLevel"`
}

// IsValid проверяет переданный API-токен. Любой некорректный токен даёт
// isValid=false c кодом 200: наружу эта ручка ошибок не возвращает.
func (h *Handler) IsValid(w http.ResponseWriter, r *http.Request) {
	tokenString := chi.URLParam(r, "token")

	isValid, apiLevel := h.service.ValidateToken(r.Context(), tokenString)

	writeJSON(w, http.StatusOK, isValidResponse{
		IsValid:  isValid,
		APILevel: apiLevel,
	})
}
