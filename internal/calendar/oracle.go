package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/api/option"

	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/logging"
)

// Oracle reports when the user is already busy
type Oracle interface {
	RequestPermission(ctx context.Context) bool
	BusyIntervals(ctx context.Context, start, end time.Time) ([]core.Interval, error)
}

// NoopOracle is used when no calendar is connected
type NoopOracle struct{}

func (NoopOracle) RequestPermission(context.Context) bool { return false }

func (NoopOracle) BusyIntervals(context.Context, time.Time, time.Time) ([]core.Interval, error) {
	return nil, nil
}

// GoogleOracle reads busy intervals from Google Calendar. Permission means a
// stored token that is valid or can be refreshed. Without permission, or when
// the API fails, it reports no busy intervals.
type GoogleOracle struct {
	connect func(ctx context.Context) (*Client, error)
	log     *logging.Logger

	mu     sync.Mutex
	client *Client
}

// NewGoogleOracle connects lazily using the token stored at tokenFile
func NewGoogleOracle(oauth *OAuthClient, tokenFile, calendarID string) *GoogleOracle {
	return &GoogleOracle{
		log: logging.Component("calendar"),
		connect: func(ctx context.Context) (*Client, error) {
			token, err := LoadToken(tokenFile)
			if err != nil {
				return nil, err
			}
			if !token.Valid() && token.RefreshToken == "" {
				return nil, fmt.Errorf("calendar token expired: %w", core.ErrPermissionDenied)
			}
			// The token source outlives this call.
			ts := oauth.TokenSource(context.Background(), token)
			return NewClient(ctx, calendarID, option.WithTokenSource(ts))
		},
	}
}

// NewOracleFromClient wraps an already authenticated client
func NewOracleFromClient(c *Client) *GoogleOracle {
	return &GoogleOracle{
		log:     logging.Component("calendar"),
		connect: func(context.Context) (*Client, error) { return c, nil },
	}
}

// Client returns the connected client, connecting on first use
func (o *GoogleOracle) Client(ctx context.Context) (*Client, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.client != nil {
		return o.client, nil
	}
	c, err := o.connect(ctx)
	if err != nil {
		return nil, err
	}
	o.client = c
	return c, nil
}

func (o *GoogleOracle) RequestPermission(ctx context.Context) bool {
	if _, err := o.Client(ctx); err != nil {
		o.log.Debug("calendar permission unavailable: %v", err)
		return false
	}
	return true
}

func (o *GoogleOracle) BusyIntervals(ctx context.Context, start, end time.Time) ([]core.Interval, error) {
	c, err := o.Client(ctx)
	if err != nil {
		o.log.Debug("calendar permission unavailable, assuming free: %v", err)
		return nil, nil
	}

	intervals, err := c.FreeBusy(ctx, start, end)
	if err != nil {
		o.log.Warn("free/busy lookup failed, assuming free: %v", err)
		return nil, nil
	}
	return intervals, nil
}
