package config

import (
	"time"

	"github.com/aveoearth/marketplace/database"
)

// Config holds every knob of the marketplace API server. It is parsed
// from the environment with the MARKET prefix.
type Config struct {
	Web  Web
	DB   database.Config
	Auth Auth
	Cors Cors
	Cart Cart
	Rate Rate
}

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type Auth struct {
	// ProviderURL is the base URL of the hosted identity provider
	// (e.g. https://<project>.supabase.co).
	ProviderURL string `conf:"required"`
	ServiceKey  string `conf:"required,mask"`
	JWKSURL     string `conf:"required"`
	Issuer      string `conf:"required"`
	Audience    string `conf:"default:authenticated"`
}

type Cors struct {
	Origin string
}

type Cart struct {
	Expiry        time.Duration `conf:"default:720h"`
	SweepInterval time.Duration `conf:"default:1h"`
}

type Rate struct {
	Burst    int     `conf:"default:20"`
	LimitRPS float64 `conf:"default:10"`
	// Expiry is how long an idle client keeps its bucket, in minutes.
	Expiry int `conf:"default:30"`
}

// Assistant holds the configuration of the tool-calling gateway, which
// runs as its own process (MARKET_AI prefix).
type Assistant struct {
	Web     AssistantWeb
	Cors    Cors
	Backend Backend
	Gemini  Gemini
	Session Session
}

type AssistantWeb struct {
	Address         string        `conf:"default:0.0.0.0:8002"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:60s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type Backend struct {
	URL     string        `conf:"default:http://localhost:8000"`
	Timeout time.Duration `conf:"default:15s"`
}

type Gemini struct {
	APIKey string `conf:"required,mask"`
	Model  string `conf:"default:gemini-2.0-flash-exp"`
	URL    string `conf:"default:https://generativelanguage.googleapis.com"`
}

type Session struct {
	TTL         time.Duration `conf:"default:30m"`
	MaxMessages int           `conf:"default:10"`
}
