package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aveoearth/marketplace/core/user"
	"golang.org/x/oauth2"
)

// Supabase is the admin client for the hosted identity provider. It
// implements user.Provider.
type Supabase struct {
	url    string
	apiKey string
	client *http.Client
}

func NewSupabase(ctx context.Context, url string, serviceKey string) *Supabase {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: serviceKey})
	return &Supabase{
		url:    url,
		apiKey: serviceKey,
		client: oauth2.NewClient(ctx, ts),
	}
}

func (s *Supabase) GetProfile(ctx context.Context, id string) (user.Profile, error) {
	url := fmt.Sprintf("%s/auth/v1/admin/users/%s", s.url, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return user.Profile{}, fmt.Errorf("building profile request: %w", err)
	}
	req.Header.Set("apikey", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return user.Profile{}, fmt.Errorf("fetching profile[%s]: %w", id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return user.Profile{}, user.ErrProfileNotFound
	case resp.StatusCode != http.StatusOK:
		return user.Profile{}, fmt.Errorf("fetching profile[%s]: status %s", id, resp.Status)
	}

	var body struct {
		ID               string `json:"id"`
		Email            string `json:"email"`
		Phone            string `json:"phone"`
		EmailConfirmedAt string `json:"email_confirmed_at"`
		UserMetadata     struct {
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
			UserType  string `json:"user_type"`
		} `json:"user_metadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return user.Profile{}, fmt.Errorf("decoding profile[%s]: %w", id, err)
	}

	return user.Profile{
		ID:            body.ID,
		Email:         body.Email,
		Phone:         body.Phone,
		Role:          body.UserMetadata.UserType,
		FirstName:     body.UserMetadata.FirstName,
		LastName:      body.UserMetadata.LastName,
		EmailVerified: body.EmailConfirmedAt != "",
	}, nil
}
