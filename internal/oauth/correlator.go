package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownAttempt is returned by Complete for a state token that was never
// issued, already redeemed, or expired.
var ErrUnknownAttempt = errors.New("unknown authorization attempt")

const (
	attemptTTL  = 15 * time.Minute
	maxAttempts = 32
)

// Attempt is one pending browser authorization.
type Attempt struct {
	State   string
	AuthURL string

	created time.Time
	done    chan error
}

// Done is closed with the outcome once the attempt's callback arrives, or
// with ErrUnknownAttempt when the attempt expires or is abandoned.
func (a *Attempt) Done() <-chan error {
	return a.done
}

// finish delivers the terminal outcome exactly once. Callers hold the
// correlator lock or have already removed the attempt from the map.
func (a *Attempt) finish(err error) {
	a.done <- err
	close(a.done)
}

// Exchanger redeems an authorization code. Satisfied by *Session.
type Exchanger interface {
	Exchange(ctx context.Context, code string) error
	AuthCodeURL(state string) string
}

// Correlator matches authorization callbacks to the attempts that started
// them. Each attempt gets a crypto-random state token; the callback carries
// it back so concurrent flows cannot cross wires.
type Correlator struct {
	session Exchanger
	now     func() time.Time

	mu       sync.Mutex
	attempts map[string]*Attempt
}

func NewCorrelator(session Exchanger) *Correlator {
	return &Correlator{
		session:  session,
		now:      time.Now,
		attempts: make(map[string]*Attempt),
	}
}

// Begin registers a new authorization attempt and returns it with the URL
// the user should open.
func (c *Correlator) Begin() (*Attempt, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate state token: %w", err)
	}
	state := hex.EncodeToString(buf)

	a := &Attempt{
		State:   state,
		AuthURL: c.session.AuthCodeURL(state),
		created: c.now(),
		done:    make(chan error, 1),
	}

	c.mu.Lock()
	c.expireLocked()
	if len(c.attempts) >= maxAttempts {
		c.mu.Unlock()
		return nil, fmt.Errorf("too many pending authorization attempts")
	}
	c.attempts[state] = a
	c.mu.Unlock()

	attemptsBegun.Inc()
	return a, nil
}

// Complete redeems the callback for the given state token. The token is
// consumed before the exchange runs, so a replayed callback gets
// ErrUnknownAttempt no matter how the first redemption went.
func (c *Correlator) Complete(ctx context.Context, state, code string) error {
	c.mu.Lock()
	c.expireLocked()
	a, ok := c.attempts[state]
	if ok {
		delete(c.attempts, state)
	}
	c.mu.Unlock()
	if !ok {
		attemptsUnknown.Inc()
		return ErrUnknownAttempt
	}

	err := c.session.Exchange(ctx, code)
	a.finish(err)
	if err != nil {
		return err
	}
	attemptsCompleted.Inc()
	return nil
}

// Abandon drops a pending attempt, e.g. when the caller gives up waiting.
// Anyone blocked on the attempt's Done channel gets ErrUnknownAttempt.
func (c *Correlator) Abandon(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.attempts[state]; ok {
		delete(c.attempts, state)
		a.finish(ErrUnknownAttempt)
	}
}

// Pending reports the number of live attempts.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	return len(c.attempts)
}

func (c *Correlator) expireLocked() {
	cutoff := c.now().Add(-attemptTTL)
	for state, a := range c.attempts {
		if a.created.Before(cutoff) {
			delete(c.attempts, state)
			a.finish(ErrUnknownAttempt)
		}
	}
}
