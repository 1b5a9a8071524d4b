package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/chepyr/go-task-tracker/shared"
	"github.com/chepyr/go-task-tracker/shared/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	UserID    uuid.UUID    `json:"userId"`
	User      *models.User `json:"user"`
}

func (handler *Handler) HandleLogin(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		log.Printf("Invalid method for login: %s", request.Method)
		shared.SendError(writer, "Use POST method for login", http.StatusMethodNotAllowed)
		return
	}

	if !handler.allow(request) {
		log.Printf("Rate limit exceeded for IP: %s", request.RemoteAddr)
		shared.SendError(writer, "Too many login attempts. Please try again later.", http.StatusTooManyRequests)
		return
	}

	var input credentials
	if err := json.NewDecoder(request.Body).Decode(&input); err != nil {
		log.Printf("Error decoding JSON: %v", err)
		shared.SendError(writer, "Bad JSON", http.StatusBadRequest)
		return
	}
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if !validateCredentials(input, writer) {
		return
	}

	ctx, cancel := context.WithTimeout(request.Context(), requestTimeout)
	defer cancel()

	user, err := handler.UserRepo.GetByEmail(ctx, input.Email)
	if err != nil {
		log.Printf("Error retrieving user by email %s: %v", input.Email, err)
		if shared.IsTransient(err) {
			shared.SendErrorFor(writer, err, "Cannot fetch user")
			return
		}
		shared.SendError(writer, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		log.Printf("Invalid password for email: %s", input.Email)
		shared.SendError(writer, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	expiresAt := time.Now().Add(tokenTTL)
	token, err := generateJWTToken(handler.JWTSecret, user.ID.String(), expiresAt)
	if err != nil {
		log.Printf("Error generating token: %v", err)
		shared.SendError(writer, "Cannot create token", http.StatusInternalServerError)
		return
	}

	shared.SendJSON(writer, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
		UserID:    user.ID,
		User:      user,
	})
	log.Printf("User logged in: %s", input.Email)
}

// generateJWTToken signs the HS256 token the tasks service accepts.
func generateJWTToken(secret, sub string, expiresAt time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("JWT secret is not configured")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("error signing token: %w", err)
	}
	return tokenString, nil
}
