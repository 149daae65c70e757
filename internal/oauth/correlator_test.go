package oauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeExchanger struct {
	codes []string
	err   error
}

func (f *fakeExchanger) Exchange(_ context.Context, code string) error {
	f.codes = append(f.codes, code)
	return f.err
}

func (f *fakeExchanger) AuthCodeURL(state string) string {
	return "https://auth.example.com/authorize?state=" + state
}

func TestCorrelatorStateIsSingleUse(t *testing.T) {
	ex := &fakeExchanger{}
	c := NewCorrelator(ex)

	a, err := c.Begin()
	require.NoError(t, err)
	require.Contains(t, a.AuthURL, a.State)

	require.NoError(t, c.Complete(context.Background(), a.State, "code-1"))
	require.Equal(t, []string{"code-1"}, ex.codes)

	err = c.Complete(context.Background(), a.State, "code-1")
	require.ErrorIs(t, err, ErrUnknownAttempt)
	require.Len(t, ex.codes, 1, "replayed callback must not reach the exchanger")
}

func TestCorrelatorUnknownState(t *testing.T) {
	ex := &fakeExchanger{}
	c := NewCorrelator(ex)

	err := c.Complete(context.Background(), "never-issued", "code-1")
	require.ErrorIs(t, err, ErrUnknownAttempt)
	require.Empty(t, ex.codes)
}

func TestCorrelatorConcurrentAttemptsStayIsolated(t *testing.T) {
	ex := &fakeExchanger{}
	c := NewCorrelator(ex)

	a, err := c.Begin()
	require.NoError(t, err)
	b, err := c.Begin()
	require.NoError(t, err)
	require.NotEqual(t, a.State, b.State)

	require.NoError(t, c.Complete(context.Background(), b.State, "code-b"))
	require.Equal(t, 1, c.Pending(), "completing one attempt must not consume the other")

	require.NoError(t, c.Complete(context.Background(), a.State, "code-a"))
	require.Equal(t, []string{"code-b", "code-a"}, ex.codes)
}

func TestCorrelatorExchangeErrorReachesWaiter(t *testing.T) {
	wantErr := errors.New("exchange rejected")
	ex := &fakeExchanger{err: wantErr}
	c := NewCorrelator(ex)

	a, err := c.Begin()
	require.NoError(t, err)

	require.ErrorIs(t, c.Complete(context.Background(), a.State, "code-1"), wantErr)

	select {
	case got := <-a.Done():
		require.ErrorIs(t, got, wantErr)
	default:
		t.Fatal("attempt outcome not delivered")
	}
}

func TestCorrelatorExpiresStaleAttempts(t *testing.T) {
	ex := &fakeExchanger{}
	c := NewCorrelator(ex)

	now := time.Now()
	c.now = func() time.Time { return now }

	a, err := c.Begin()
	require.NoError(t, err)

	now = now.Add(attemptTTL + time.Minute)
	err = c.Complete(context.Background(), a.State, "code-1")
	require.ErrorIs(t, err, ErrUnknownAttempt)
	require.Zero(t, c.Pending())

	// Expiry unblocks anyone waiting on the attempt.
	select {
	case got, open := <-a.Done():
		require.True(t, open)
		require.ErrorIs(t, got, ErrUnknownAttempt)
	default:
		t.Fatal("expired attempt left its waiter hanging")
	}
	_, open := <-a.Done()
	require.False(t, open, "done channel must be closed after expiry")
}

func TestCorrelatorAbandon(t *testing.T) {
	ex := &fakeExchanger{}
	c := NewCorrelator(ex)

	a, err := c.Begin()
	require.NoError(t, err)
	c.Abandon(a.State)
	c.Abandon(a.State) // idempotent

	require.ErrorIs(t, c.Complete(context.Background(), a.State, "code-1"), ErrUnknownAttempt)

	select {
	case got, open := <-a.Done():
		require.True(t, open)
		require.ErrorIs(t, got, ErrUnknownAttempt)
	default:
		t.Fatal("abandoned attempt left its waiter hanging")
	}
	_, open := <-a.Done()
	require.False(t, open, "done channel must be closed after abandon")
}
