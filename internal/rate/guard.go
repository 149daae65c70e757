// Package rate keeps outbound API traffic inside the vendor's request
// budget. The cloud does not advertise remaining quota in headers, it just
// answers 429 with Retry-After, so the guard pairs a local token bucket
// with a server-driven cooldown.
package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Limits declares the local request budget.
type Limits struct {
	// RequestsPerMinute caps outbound calls. Zero disables the bucket and
	// leaves only the 429 cooldown active.
	RequestsPerMinute int
}

// LimitError is returned when a call is blocked before leaving the process.
type LimitError struct {
	Reason  string
	RetryAt time.Time
}

func (e LimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("rate limited: %s", e.Reason)
	}
	return fmt.Sprintf("rate limited: %s (retry at %s)", e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

// Guard enforces the budget. All state is mutated under mu.
type Guard struct {
	limits Limits
	now    func() time.Time

	mu       sync.Mutex
	tokens   float64
	last     time.Time
	cooldown time.Time
}

func NewGuard(limits Limits) *Guard {
	return &Guard{
		limits: limits,
		now:    time.Now,
		tokens: float64(limits.RequestsPerMinute),
	}
}

// WrapHTTP returns a copy of base whose transport refuses calls that would
// blow the budget and records every response it sees.
func WrapHTTP(limits Limits, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: NewGuard(limits)}
	return &client
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := rt.guard.Acquire(); err != nil {
		blockedTotal.Inc()
		return nil, err
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.Observe(resp.StatusCode, resp.Header)
	return resp, nil
}

// Acquire consumes one request slot or explains why it cannot.
func (g *Guard) Acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.cooldown.IsZero() {
		if now.Before(g.cooldown) {
			return LimitError{Reason: "server cooldown", RetryAt: g.cooldown}
		}
		g.cooldown = time.Time{}
		cooldownGauge.Set(0)
	}

	if g.limits.RequestsPerMinute <= 0 {
		return nil
	}

	if g.last.IsZero() {
		g.last = now
	}
	refill := float64(g.limits.RequestsPerMinute) / time.Minute.Seconds()
	g.tokens = min(float64(g.limits.RequestsPerMinute), g.tokens+now.Sub(g.last).Seconds()*refill)
	g.last = now
	tokensGauge.Set(g.tokens)

	if g.tokens < 1 {
		wait := time.Duration((1 - g.tokens) / refill * float64(time.Second))
		return LimitError{Reason: "budget exhausted", RetryAt: now.Add(wait)}
	}
	g.tokens--
	return nil
}

// Observe records the response outcome. A 429 starts a cooldown sized by
// Retry-After, defaulting to one minute when the header is absent.
func (g *Guard) Observe(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lastStatusGauge.Set(float64(status))
	if status != http.StatusTooManyRequests {
		return
	}

	throttledTotal.Inc()
	wait := time.Minute
	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
	}
	g.cooldown = g.now().Add(wait)
	cooldownGauge.Set(wait.Seconds())
}
