package handlers

import (
	"time"

	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/service"
	"github.com/pribylovaa/command-my-startup/internal/storage"
)

// Входные/выходные модели REST.

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	FullName           string `json:"full_name"`
	AvatarURL          string `json:"avatar_url,omitempty"`
	SubscriptionStatus string `json:"subscription_status,omitempty"`
	CreatedAt          int64  `json:"created_at"` // Unix UTC
	UpdatedAt          int64  `json:"updated_at"` // Unix UTC
}

type authResponse struct {
	User         userResponse `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	// ExpiresIn — время жизни access-токена в секундах.
	ExpiresIn int64 `json:"expires_in"`
}

type meResponse struct {
	Authenticated bool          `json:"authenticated"`
	AuthMethod    string        `json:"auth_method,omitempty"`
	User          *userResponse `json:"user,omitempty"`
}

type okResponse struct {
	Ok bool `json:"ok"`
}

type updateProfileRequest struct {
	FullName *string `json:"full_name,omitempty"`
	Email    *string `json:"email,omitempty"`
}

type avatarPresignRequest struct {
	ContentType   string `json:"content_type"`
	ContentLength int64  `json:"content_length"`
}

type avatarPresignResponse struct {
	UploadURL       string            `json:"upload_url"`
	AvatarKey       string            `json:"avatar_key"`
	ExpiresSeconds  int64             `json:"expires_seconds"`
	RequiredHeaders map[string]string `json:"required_headers"`
}

type avatarConfirmRequest struct {
	AvatarKey string `json:"avatar_key"`
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

type apiKeyResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	KeyPrefix  string `json:"key_prefix"`
	CreatedAt  int64  `json:"created_at"`
	LastUsedAt *int64 `json:"last_used_at,omitempty"`
	// Key отдаётся только в ответе на создание.
	Key string `json:"key,omitempty"`
}

type commandRequest struct {
	Prompt       string   `json:"prompt"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
}

type commandResponse struct {
	ID         string `json:"id,omitempty"`
	Content    string `json:"content"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
	CreatedAt  int64  `json:"created_at"`
}

type historyEntryResponse struct {
	ID         string `json:"id"`
	Prompt     string `json:"prompt"`
	Model      string `json:"model"`
	Content    string `json:"content"`
	TokensUsed int    `json:"tokens_used"`
	AuthMethod string `json:"auth_method,omitempty"`
	APIKeyID   string `json:"api_key_id,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

type historyListResponse struct {
	Items  []historyEntryResponse `json:"items"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

type modelUsageResponse struct {
	Model string `json:"model"`
	Count int64  `json:"count"`
}

type historyStatsResponse struct {
	Period            string               `json:"period"`
	TotalCommands     int64                `json:"total_commands"`
	TotalTokens       int64                `json:"total_tokens"`
	ModelDistribution []modelUsageResponse `json:"model_distribution"`
}

func userFromProfile(p *service.Profile) userResponse {
	return userResponse{
		ID:                 p.User.ID.String(),
		Email:              p.User.Email,
		FullName:           p.User.FullName,
		AvatarURL:          p.AvatarURL,
		SubscriptionStatus: p.User.SubscriptionStatus,
		CreatedAt:          p.User.CreatedAt.Unix(),
		UpdatedAt:          p.User.UpdatedAt.Unix(),
	}
}

func authFromSession(s *service.Session, now time.Time) authResponse {
	expiresIn := int64(s.Tokens.AccessExpiresAt.Sub(now) / time.Second)
	if expiresIn < 0 {
		expiresIn = 0
	}

	return authResponse{
		User:         userFromProfile(&service.Profile{User: *s.User}),
		AccessToken:  s.Tokens.AccessToken,
		RefreshToken: s.Tokens.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    expiresIn,
	}
}

func avatarPresignFromInfo(info *storage.UploadInfo) avatarPresignResponse {
	return avatarPresignResponse{
		UploadURL:       info.UploadURL,
		AvatarKey:       info.AvatarKey,
		ExpiresSeconds:  int64(info.ExpiresIn / time.Second),
		RequiredHeaders: info.RequiredHeaders,
	}
}

func apiKeyFromModel(k models.APIKey) apiKeyResponse {
	out := apiKeyResponse{
		ID:        k.ID.String(),
		Name:      k.Name,
		KeyPrefix: k.KeyPrefix,
		CreatedAt: k.CreatedAt.Unix(),
	}
	if k.LastUsedAt != nil {
		ts := k.LastUsedAt.Unix()
		out.LastUsedAt = &ts
	}
	return out
}

func historyEntryFromModel(e models.HistoryEntry) historyEntryResponse {
	out := historyEntryResponse{
		ID:         e.ID.String(),
		Prompt:     e.Prompt,
		Model:      e.Model,
		Content:    e.Content,
		TokensUsed: e.TokensUsed,
		AuthMethod: string(e.AuthMethod),
		CreatedAt:  e.CreatedAt.Unix(),
	}
	if e.APIKeyID != nil {
		out.APIKeyID = e.APIKeyID.String()
	}
	return out
}

func historyStatsFromModel(s *models.HistoryStats) historyStatsResponse {
	out := historyStatsResponse{
		Period:            s.Period,
		TotalCommands:     s.TotalCommands,
		TotalTokens:       s.TotalTokens,
		ModelDistribution: make([]modelUsageResponse, 0, len(s.ModelDistribution)),
	}
	for _, m := range s.ModelDistribution {
		out.ModelDistribution = append(out.ModelDistribution, modelUsageResponse{Model: m.Model, Count: m.Count})
	}
	return out
}
