package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"formbase/backend/auth"
	"formbase/backend/schema"
	"formbase/utils"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserService struct {
	db  *gorm.DB
	jwt *auth.JwtManager
}

func (s *UserService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/register", s.Register)
	r.Post("/login", s.Login)
	r.Post("/refresh", s.Refresh)

	r.Group(func(r chi.Router) {
		r.Use(s.jwt.AccessContextMiddleware)

		r.Get("/me", s.Me)
	})

	return r
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (p registerRequest) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.EmailFormat),
		validation.Field(&p.Password, validation.Required, validation.Length(8, 128)),
	)
}

type UserInfo struct {
	Id    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

type authResponse struct {
	User   UserInfo       `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

func (s *UserService) Register(w http.ResponseWriter, r *http.Request) {
	var params registerRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := params.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	hash, err := auth.HashPassword(params.Password)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	user := schema.User{
		Id:           uuid.New(),
		Email:        strings.ToLower(params.Email),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		var existing schema.User
		result := txn.Limit(1).Find(&existing, "email = ?", user.Email)
		if result.Error != nil {
			slog.Error("sql error checking for duplicate email", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(fmt.Errorf("email %v is already registered", user.Email), http.StatusConflict)
		}

		result = txn.Create(&user)
		if result.Error != nil {
			slog.Error("sql error creating new user", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error registering user: %v", err), GetResponseCode(err))
		return
	}

	tokens, err := s.jwt.CreateTokenPair(user.Id, user.Email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("registered new user", "user_id", user.Id)

	utils.WriteCreatedResponse(w, authResponse{
		User:   UserInfo{Id: user.Id, Email: user.Email},
		Tokens: tokens,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *UserService) Login(w http.ResponseWriter, r *http.Request) {
	var params loginRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, err := schema.GetUserByEmail(strings.ToLower(params.Email), s.db)
	if err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			http.Error(w, "invalid login credentials", http.StatusUnauthorized)
			return
		}
		http.Error(w, fmt.Sprintf("login failed: %v", err), http.StatusInternalServerError)
		return
	}

	if !auth.VerifyPassword(user.PasswordHash, params.Password) {
		http.Error(w, "invalid login credentials", http.StatusUnauthorized)
		return
	}

	tokens, err := s.jwt.CreateTokenPair(user.Id, user.Email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, authResponse{
		User:   UserInfo{Id: user.Id, Email: user.Email},
		Tokens: tokens,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *UserService) Refresh(w http.ResponseWriter, r *http.Request) {
	var params refreshRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	identity, err := s.jwt.DecodeRefreshToken(params.RefreshToken)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	user, err := schema.GetUser(identity.UserId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			http.Error(w, "user no longer exists", http.StatusUnauthorized)
			return
		}
		http.Error(w, fmt.Sprintf("token refresh failed: %v", err), http.StatusInternalServerError)
		return
	}

	tokens, err := s.jwt.CreateTokenPair(user.Id, user.Email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, authResponse{
		User:   UserInfo{Id: user.Id, Email: user.Email},
		Tokens: tokens,
	})
}

func (s *UserService) Me(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	user, err := schema.GetUser(identity.UserId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, UserInfo{Id: user.Id, Email: user.Email})
}
