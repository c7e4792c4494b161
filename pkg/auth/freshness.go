package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// SaltFetcher obtains a salt ticket from the salt service.
type SaltFetcher interface {
	FetchSalt(ctx context.Context) (SaltTicket, error)
}

// Freshness provides the per-request freshness material: a server issued
// salt ticket, a nonce and a timestamp. Nothing is cached, every call
// returns new material.
type Freshness struct {
	fetcher SaltFetcher
	clock   clock.Clock
}

func NewFreshness(fetcher SaltFetcher, clk clock.Clock) *Freshness {
	if clk == nil {
		clk = clock.New()
	}
	return &Freshness{fetcher: fetcher, clock: clk}
}

// Material is the freshness material bound to a single signed request.
type Material struct {
	Ticket    SaltTicket
	Nonce     string
	Timestamp int64
}

// Obtain fetches a new salt ticket and generates a nonce and timestamp for it.
func (f *Freshness) Obtain(ctx context.Context) (Material, error) {
	ticket, err := f.ObtainTicket(ctx)
	if err != nil {
		return Material{}, err
	}
	return Material{
		Ticket:    ticket,
		Nonce:     f.Nonce(),
		Timestamp: f.Timestamp(),
	}, nil
}

// ObtainTicket fetches a new salt ticket. Every failure is reported as
// an ErrNetwork.
func (f *Freshness) ObtainTicket(ctx context.Context) (SaltTicket, error) {
	ticket, err := f.fetcher.FetchSalt(ctx)
	if err != nil {
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			return SaltTicket{}, err
		}
		return SaltTicket{}, &NetworkError{Method: "GET", Path: "/api/salt", Err: err}
	}
	if ticket.Salt == "" || ticket.SaltID == "" {
		return SaltTicket{}, &NetworkError{
			Method: "GET", Path: "/api/salt",
			Err: errors.New("incomplete salt ticket"),
		}
	}
	return ticket, nil
}

// Nonce returns 128 bits from a cryptographically secure source, hex encoded.
func (f *Freshness) Nonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Timestamp returns the current time in seconds since the epoch.
func (f *Freshness) Timestamp() int64 {
	return f.clock.Now().Unix()
}
