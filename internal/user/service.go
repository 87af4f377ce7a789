package user

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"gamechat/internal/apperr"
)

// Lookup resolves an external user id to a full Identity.
type Lookup interface {
	Identity(ctx context.Context, userID string) (Identity, error)
}

type Service struct {
	client        *http.Client
	usersURL      string
	thumbnailsURL string
	group         singleflight.Group
}

func NewService(usersURL, thumbnailsURL string, timeout time.Duration) *Service {
	return &Service{
		client:        &http.Client{Timeout: timeout},
		usersURL:      strings.TrimRight(usersURL, "/"),
		thumbnailsURL: strings.TrimRight(thumbnailsURL, "/"),
	}
}

// Identity fetches the profile and the avatar headshot in parallel.
// Concurrent lookups for the same id share one upstream round trip, which
// is detached from the first caller's cancellation and bounded by the client
// timeout instead.
func (s *Service) Identity(ctx context.Context, userID string) (Identity, error) {
	v, err, _ := s.group.Do(userID, func() (any, error) {
		return s.fetch(context.WithoutCancel(ctx), userID)
	})
	if err != nil {
		return Identity{}, err
	}
	return v.(Identity), nil
}

func (s *Service) fetch(ctx context.Context, userID string) (Identity, error) {
	var (
		profile  profileResponse
		headshot headshotResponse
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.getJSON(gctx, fmt.Sprintf("%s/v1/users/%s", s.usersURL, url.PathEscape(userID)), &profile)
	})
	g.Go(func() error {
		q := url.Values{}
		q.Set("userIds", userID)
		q.Set("size", "420x420")
		q.Set("format", "Png")
		q.Set("isCircular", "false")
		return s.getJSON(gctx, s.thumbnailsURL+"/v1/users/avatar-headshot?"+q.Encode(), &headshot)
	})
	if err := g.Wait(); err != nil {
		return Identity{}, apperr.Upstream("failed to fetch user profile", err)
	}

	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return Identity{}, apperr.Upstream("failed to fetch user profile", err)
	}
	if profile.ID != id || profile.Name == "" {
		return Identity{}, apperr.Upstream("failed to fetch user profile", fmt.Errorf("malformed profile for user %s", userID))
	}

	avatar := headshot.imageFor(id)
	if avatar == "" {
		return Identity{}, apperr.Upstream("failed to fetch user profile", fmt.Errorf("no headshot for user %s", userID))
	}

	return Identity{
		UserID:      userID,
		Username:    profile.Name,
		DisplayName: profile.DisplayName,
		AvatarURL:   avatar,
	}, nil
}

func (s *Service) getJSON(ctx context.Context, target string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", req.URL.Path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
