package capi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrymomot/companion/pkg/logger"
)

// API paths.
const (
	PathProfile        = "/profile"
	PathMarket         = "/market"
	PathShipyard       = "/shipyard"
	PathFleetCarrier   = "/fleetcarrier"
	PathCommunityGoals = "/communitygoals"
	PathJournal        = "/journal"
)

const (
	profileCacheKey = "profile"
	maxBodySize     = 32 << 20
)

// Response is the outcome of an authenticated request. Failures are
// expressed through StatusCode: 401 when the session cannot authorize the
// call, 503 when the API host could not be reached, 302 when it redirected.
type Response struct {
	Body       string
	HasBody    bool
	StatusCode int
}

// OK reports whether a body arrived with a 2xx status.
func (r Response) OK() bool {
	return r.HasBody && r.StatusCode >= 200 && r.StatusCode < 300
}

func noBody(status int) Response {
	return Response{StatusCode: status}
}

// Get performs an authenticated GET of path against the API host,
// refreshing an expired access token first.
func (s *Session) Get(ctx context.Context, path string) Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, path)
}

func (s *Session) getLocked(ctx context.Context, path string) Response {
	if s.machine.Current() != Authorized || s.credential == nil {
		return noBody(http.StatusUnauthorized)
	}
	log := s.logger.With(logger.Identity(s.identity), logger.Endpoint(path))

	if s.credential.Expired(s.now(), s.cfg.ExpirySkew) {
		if err := s.refreshLocked(ctx); err != nil {
			if errors.Is(err, ErrTransport) {
				return noBody(http.StatusServiceUnavailable)
			}
			log.WarnContext(ctx, "refresh rejected, asking for login", logger.Error(err))
			_, _ = s.askForLoginLocked(ctx)
			return noBody(http.StatusUnauthorized)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.APIBaseURL()+path, nil)
	if err != nil {
		log.ErrorContext(ctx, "failed to build request", logger.Error(err))
		return noBody(http.StatusBadRequest)
	}
	req.Header.Set("Authorization", "Bearer "+s.credential.AccessToken)
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	start := s.now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.WarnContext(ctx, "request failed", logger.Error(err))
		return noBody(http.StatusServiceUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusFound {
		return noBody(http.StatusFound)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		log.WarnContext(ctx, "failed to read response", logger.Error(err))
		return noBody(http.StatusServiceUnavailable)
	}

	log.DebugContext(ctx, "request completed",
		logger.StatusCode(resp.StatusCode),
		logger.Duration(s.now().Sub(start)),
	)
	return Response{Body: string(body), HasBody: true, StatusCode: resp.StatusCode}
}

// fetch narrows a raw response to the data contract: non-2xx and blank
// bodies are absent. With emptyOnNoContent a 204 yields a present empty body.
func (s *Session) fetch(ctx context.Context, path string, emptyOnNoContent bool) Response {
	resp := s.Get(ctx, path)
	return narrow(resp, emptyOnNoContent)
}

func narrow(resp Response, emptyOnNoContent bool) Response {
	if resp.StatusCode == http.StatusNoContent && emptyOnNoContent {
		return Response{HasBody: true, StatusCode: http.StatusNoContent}
	}
	if !resp.OK() || strings.TrimSpace(resp.Body) == "" {
		return noBody(resp.StatusCode)
	}
	return resp
}

// Profile returns the commander profile. A successful body is served from
// cache for the configured TTL unless force is set.
func (s *Session) Profile(ctx context.Context, force bool) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !force && s.machine.Current() == Authorized {
		if body, ok := s.profile.Get(profileCacheKey); ok {
			return Response{Body: body, HasBody: true, StatusCode: http.StatusOK}
		}
	}

	resp := narrow(s.getLocked(ctx, PathProfile), false)
	if resp.OK() {
		s.profile.Put(profileCacheKey, resp.Body)
	}
	return resp
}

func (s *Session) Market(ctx context.Context, emptyOnNoContent bool) Response {
	return s.fetch(ctx, PathMarket, emptyOnNoContent)
}

func (s *Session) Shipyard(ctx context.Context, emptyOnNoContent bool) Response {
	return s.fetch(ctx, PathShipyard, emptyOnNoContent)
}

func (s *Session) FleetCarrier(ctx context.Context, emptyOnNoContent bool) Response {
	return s.fetch(ctx, PathFleetCarrier, emptyOnNoContent)
}

func (s *Session) CommunityGoals(ctx context.Context, emptyOnNoContent bool) Response {
	return s.fetch(ctx, PathCommunityGoals, emptyOnNoContent)
}

// Journal returns the raw journal text of the UTC calendar day containing
// day. A day without data yields an absent body with a 2xx status.
func (s *Session) Journal(ctx context.Context, day time.Time) Response {
	resp := s.fetch(ctx, JournalPath(day), false)
	if resp.HasBody {
		text := strings.TrimSpace(resp.Body)
		if strings.EqualFold(text, "Journal unavailable") || text == "{}" {
			return noBody(resp.StatusCode)
		}
	}
	return resp
}

// JournalDate is Journal for a date written as yyyy-MM-dd or yyyy/MM/dd.
func (s *Session) JournalDate(ctx context.Context, date string) (Response, error) {
	day, err := ParseJournalDate(date)
	if err != nil {
		return Response{}, err
	}
	return s.Journal(ctx, day), nil
}

// JournalPath returns the API path of the journal for day.
func JournalPath(day time.Time) string {
	return PathJournal + "/" + day.UTC().Format("2006/01/02")
}

// ParseJournalDate accepts yyyy-MM-dd or yyyy/MM/dd.
func ParseJournalDate(date string) (time.Time, error) {
	day, err := time.Parse(time.DateOnly, strings.ReplaceAll(strings.TrimSpace(date), "/", "-"))
	if err != nil {
		return time.Time{}, fmt.Errorf("capi: invalid journal date %q: %w", date, err)
	}
	return day, nil
}
