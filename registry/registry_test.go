package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fedlab/fedflow/types"
)

func TestRegisterAndGet(t *testing.T) {
	r := New(15*time.Second, nil, zaptest.NewLogger(t))

	token, err := r.Register(Org{ID: "org-1", Name: "Hospital A", Address: "http://worker-1:9000", Algos: []string{"linear_sgd"}})
	require.NoError(t, err)
	assert.Empty(t, token, "no token without an issuer")

	org, err := r.Get("org-1")
	require.NoError(t, err)
	assert.Equal(t, OrgStatusOnline, org.Status)
	assert.Equal(t, "Hospital A", org.Name)
	assert.False(t, org.RegisteredAt.IsZero())
	assert.False(t, org.LastHeartbeat.IsZero())

	_, err = r.Get("ghost")
	assert.True(t, types.IsCode(err, types.ErrOrgNotFound))
}

func TestRegisterRequiresID(t *testing.T) {
	r := New(15*time.Second, nil, zaptest.NewLogger(t))
	_, err := r.Register(Org{Name: "anonymous"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestReRegisterRefreshes(t *testing.T) {
	r := New(15*time.Second, nil, zaptest.NewLogger(t))
	_, err := r.Register(Org{ID: "org-1", Address: "http://old:9000"})
	require.NoError(t, err)

	first, err := r.Get("org-1")
	require.NoError(t, err)

	_, err = r.Register(Org{ID: "org-1", Address: "http://new:9000", Algos: []string{"linear_sgd"}})
	require.NoError(t, err)

	org, err := r.Get("org-1")
	require.NoError(t, err)
	assert.Equal(t, "http://new:9000", org.Address)
	assert.Equal(t, first.RegisteredAt, org.RegisteredAt, "registration time survives refresh")
	assert.True(t, r.Supports("org-1", "linear_sgd"))
	assert.False(t, r.Supports("org-1", "cnn"))
	assert.Len(t, r.List(), 1)
}

func TestSweepMarksOfflineAfterThreeMissedIntervals(t *testing.T) {
	interval := 10 * time.Second
	r := New(interval, nil, zaptest.NewLogger(t))

	current := time.Now()
	r.now = func() time.Time { return current }

	_, err := r.Register(Org{ID: "org-1", Address: "http://w:9000"})
	require.NoError(t, err)

	// Two intervals late: still online.
	current = current.Add(2 * interval)
	r.sweep()
	org, _ := r.Get("org-1")
	assert.Equal(t, OrgStatusOnline, org.Status)

	// Past three intervals: offline.
	current = current.Add(2 * interval)
	r.sweep()
	org, _ = r.Get("org-1")
	assert.Equal(t, OrgStatusOffline, org.Status)

	// A heartbeat brings it back.
	require.NoError(t, r.Heartbeat("org-1"))
	org, _ = r.Get("org-1")
	assert.Equal(t, OrgStatusOnline, org.Status)
}

func TestHeartbeatUnknownOrg(t *testing.T) {
	r := New(15*time.Second, nil, zaptest.NewLogger(t))
	err := r.Heartbeat("ghost")
	assert.True(t, types.IsCode(err, types.ErrOrgNotFound))
}

func TestTokenIssueAndVerify(t *testing.T) {
	issuer, err := NewTokenIssuer("secret-key", time.Hour)
	require.NoError(t, err)

	token, err := issuer.Issue("org-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	orgID, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "org-1", orgID)
}

func TestTokenVerifyErrors(t *testing.T) {
	issuer, err := NewTokenIssuer("secret-key", time.Hour)
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Verify("not-a-token")
		assert.True(t, types.IsCode(err, types.ErrInvalidToken))
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewTokenIssuer("other-key", time.Hour)
		require.NoError(t, err)
		token, err := other.Issue("org-1")
		require.NoError(t, err)

		_, err = issuer.Verify(token)
		assert.True(t, types.IsCode(err, types.ErrInvalidToken))
	})

	t.Run("expired", func(t *testing.T) {
		token, err := issuer.Issue("org-1")
		require.NoError(t, err)

		late, err := NewTokenIssuer("secret-key", time.Hour)
		require.NoError(t, err)
		late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

		_, err = late.Verify(token)
		assert.True(t, types.IsCode(err, types.ErrInvalidToken))
	})
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	_, err := NewTokenIssuer("", time.Hour)
	require.Error(t, err)
}

func TestRegisterIssuesToken(t *testing.T) {
	issuer, err := NewTokenIssuer("secret-key", time.Hour)
	require.NoError(t, err)
	r := New(15*time.Second, issuer, zaptest.NewLogger(t))

	token, err := r.Register(Org{ID: "org-1"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	orgID, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "org-1", orgID)
}
