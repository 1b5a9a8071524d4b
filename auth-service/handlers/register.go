package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/chepyr/go-task-tracker/shared"
	"github.com/chepyr/go-task-tracker/shared/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 4

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	credentials
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

func (handler *Handler) HandleRegister(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		log.Printf("Invalid method for register: %s", request.Method)
		shared.SendError(writer, "Use POST method", http.StatusMethodNotAllowed)
		return
	}

	if !handler.allow(request) {
		log.Printf("Rate limit exceeded for IP: %s", request.RemoteAddr)
		shared.SendError(writer, "Too many register attempts. Please try again later.", http.StatusTooManyRequests)
		return
	}

	var input registerRequest
	if err := json.NewDecoder(request.Body).Decode(&input); err != nil {
		log.Printf("Error decoding JSON: %v", err)
		shared.SendError(writer, "Bad JSON", http.StatusBadRequest)
		return
	}
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if !validateCredentials(input.credentials, writer) {
		return
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name, _, _ = strings.Cut(input.Email, "@")
	}

	ctx, cancel := context.WithTimeout(request.Context(), requestTimeout)
	defer cancel()

	if _, err := handler.UserRepo.GetByEmail(ctx, input.Email); err == nil {
		shared.SendError(writer, "Email already registered", http.StatusConflict)
		return
	} else if !shared.IsNotFound(err) {
		log.Printf("Error looking up email %s: %v", input.Email, err)
		shared.SendErrorFor(writer, err, "Cannot save user")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("Error hashing password: %v", err)
		shared.SendError(writer, "Cannot hash password", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Email:        input.Email,
		PasswordHash: string(hash),
		Name:         name,
		AvatarURL:    strings.TrimSpace(input.AvatarURL),
		Role:         "member",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := handler.UserRepo.Create(ctx, user); err != nil {
		log.Printf("Error saving user %s: %v", user.Email, err)
		shared.SendErrorFor(writer, err, "Cannot save user")
		return
	}

	log.Printf("User registered: %s", user.Email)
	shared.SendJSON(writer, http.StatusCreated, user)
}

func validateCredentials(input credentials, writer http.ResponseWriter) bool {
	if !isValidEmail(input.Email) {
		log.Printf("Invalid email format")
		shared.SendError(writer, "Invalid email", http.StatusBadRequest)
		return false
	}
	if len(input.Password) < minPasswordLen {
		log.Printf("Password too short")
		shared.SendError(writer, "Password must be at least 4 characters long", http.StatusBadRequest)
		return false
	}
	return true
}

func isValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}
