// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"healthmate/internal/domain"
)

// Config holds process configuration.
type Config struct {
	Addr        string
	DatabaseURL string
	Env         string
	CORSOrigins []string

	LikesOverlay           domain.OverlayMode
	LikesRollbackOnPersist bool

	// AuthDisabled serves every request as a fixed development user.
	AuthDisabled bool
	// ForwardAuth trusts the Remote-User header. Enable it only behind a
	// proxy that sets the header and strips it from client requests.
	ForwardAuth bool

	OIDC OIDC
}

// OIDC holds single sign-on settings. SSO is enabled when Issuer is set.
type OIDC struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Enabled reports whether SSO is configured.
func (o OIDC) Enabled() bool { return o.Issuer != "" }

// Production reports whether ENV=production.
func (c Config) Production() bool { return c.Env == "production" }

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	c := Config{
		Addr:        env("ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Env:         env("ENV", "development"),
		CORSOrigins: splitList(env("CORS_ORIGINS", "*")),
		OIDC: OIDC{
			Issuer:       os.Getenv("OIDC_ISSUER"),
			ClientID:     os.Getenv("OIDC_CLIENT_ID"),
			ClientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("OIDC_REDIRECT_URL"),
		},
	}

	var err error
	if c.LikesOverlay, err = domain.ParseOverlayMode(os.Getenv("LIKES_OVERLAY")); err != nil {
		return Config{}, fmt.Errorf("LIKES_OVERLAY: %w", err)
	}
	if c.LikesRollbackOnPersist, err = boolEnv("LIKES_ROLLBACK_ON_PERSIST_ERROR"); err != nil {
		return Config{}, err
	}
	if c.AuthDisabled, err = boolEnv("AUTH_DISABLED"); err != nil {
		return Config{}, err
	}
	if c.ForwardAuth, err = boolEnv("FORWARD_AUTH_ENABLED"); err != nil {
		return Config{}, err
	}
	if c.AuthDisabled && c.Production() {
		return Config{}, errors.New("AUTH_DISABLED is not allowed when ENV=production")
	}
	if c.OIDC.Enabled() && (c.OIDC.ClientID == "" || c.OIDC.RedirectURL == "") {
		return Config{}, errors.New("OIDC_ISSUER requires OIDC_CLIENT_ID and OIDC_REDIRECT_URL")
	}
	return c, nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolEnv(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
