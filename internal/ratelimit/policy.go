package ratelimit

import (
	"strings"
	"time"

	"github.com/pribylovaa/command-my-startup/internal/config"
	"github.com/pribylovaa/command-my-startup/internal/models"
)

// Class — группа маршрутов с общей квотой.
type Class string

const (
	ClassAuth     Class = "auth"
	ClassCommands Class = "commands"
	ClassGeneral  Class = "general"
)

type rule struct {
	prefix string
	class  Class
}

// Policy относит путь к классу и считает лимит с учётом способа аутентификации.
type Policy struct {
	window  time.Duration
	rules   []rule
	base    map[Class]int
	authMul int
	keyMul  int
}

// NewPolicy строит политику из конфигурации.
func NewPolicy(cfg config.RateLimitConfig) *Policy {
	authMul := cfg.AuthenticatedMultiplier
	if authMul < 1 {
		authMul = 1
	}

	keyMul := cfg.APIKeyMultiplier
	if keyMul < 1 {
		keyMul = 1
	}

	return &Policy{
		window: cfg.Window,
		rules: []rule{
			{prefix: "/api/auth", class: ClassAuth},
			{prefix: "/api/commands", class: ClassCommands},
		},
		base: map[Class]int{
			ClassAuth:     cfg.AuthLimit,
			ClassCommands: cfg.CommandsLimit,
			ClassGeneral:  cfg.GeneralLimit,
		},
		authMul: authMul,
		keyMul:  keyMul,
	}
}

// Window возвращает длительность окна.
func (p *Policy) Window() time.Duration { return p.window }

// Classify относит путь ровно к одному классу.
// Префикс совпадает целым сегментом: /api/authors — это general.
func (p *Policy) Classify(path string) Class {
	for _, r := range p.rules {
		if path == r.prefix || strings.HasPrefix(path, r.prefix+"/") {
			return r.class
		}
	}

	return ClassGeneral
}

// Limit возвращает лимит класса для вызывающего.
// Пустой method — анонимный запрос.
func (p *Policy) Limit(class Class, method models.AuthMethod) int {
	base := p.base[class]

	switch method {
	case models.AuthMethodAPIKey:
		return base * p.keyMul
	case models.AuthMethodToken, models.AuthMethodExternal:
		return base * p.authMul
	default:
		return base
	}
}

// Key собирает ключ квоты "{class}:{caller}".
func Key(class Class, caller string) string {
	return string(class) + ":" + caller
}
