package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"

	"github.com/scanpulse/scanpulse/internal/auth"
	"github.com/scanpulse/scanpulse/internal/config"
	"github.com/scanpulse/scanpulse/internal/model"
	"github.com/scanpulse/scanpulse/internal/repository"
)

type output struct {
	OwnerID   string    `json:"owner_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ProfileID string    `json:"profile_id,omitempty"`
}

func main() {
	_ = godotenv.Load(".env")

	defaultSecret := os.Getenv("JWT_SECRET")
	if defaultSecret == "" {
		defaultSecret = config.DevJWTSecret
	}
	defaultIssuer := os.Getenv("JWT_ISSUER")
	if defaultIssuer == "" {
		defaultIssuer = "scanpulse"
	}

	var (
		ownerID     = flag.String("owner", "owner-dev", "Owner ID put in the token subject")
		ttl         = flag.Duration("ttl", 24*time.Hour, "Token lifetime")
		secret      = flag.String("secret", defaultSecret, "HS256 signing secret")
		issuer      = flag.String("issuer", defaultIssuer, "Token issuer")
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string, needed with -profile-slug")
		profileName = flag.String("profile-name", "Default", "Name of the seeded profile")
		profileSlug = flag.String("profile-slug", "", "Seed a profile with this slug for the owner")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if strings.TrimSpace(*ownerID) == "" {
		fmt.Fprintln(os.Stderr, "-owner is required")
		os.Exit(1)
	}

	verifier := auth.NewVerifier(*secret, *issuer)
	token, err := verifier.Issue(*ownerID, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "issue token:", err)
		os.Exit(1)
	}

	out := output{
		OwnerID:   *ownerID,
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(*ttl).Truncate(time.Second),
	}

	if *profileSlug != "" {
		if *databaseURL == "" {
			fmt.Fprintln(os.Stderr, "DATABASE_URL is required to seed a profile")
			os.Exit(1)
		}
		id, err := ensureProfile(*databaseURL, *ownerID, *profileName, *profileSlug)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		out.ProfileID = id
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.Token)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}
}

// ensureProfile creates the owner's profile with slug unless it exists.
func ensureProfile(databaseURL, ownerID, name, slug string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, databaseURL)
	if err != nil {
		return "", fmt.Errorf("connect database: %w", err)
	}
	defer repo.Close()

	slug = strings.ToLower(strings.TrimSpace(slug))
	profiles, err := repo.ListProfilesByOwner(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("list profiles: %w", err)
	}
	for _, p := range profiles {
		if p.Slug == slug {
			return p.ID, nil
		}
	}

	p := &model.Profile{
		ID:        ulid.Make().String(),
		OwnerID:   ownerID,
		Name:      name,
		Slug:      slug,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.CreateProfile(ctx, p); err != nil {
		if errors.Is(err, repository.ErrSlugExists) {
			return "", fmt.Errorf("slug %s is taken", slug)
		}
		return "", fmt.Errorf("create profile: %w", err)
	}
	return p.ID, nil
}
