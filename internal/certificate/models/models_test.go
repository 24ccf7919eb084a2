package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certstore/pkg/platform/sentinel"
)

func TestStatusTransitions(t *testing.T) {
	allowed := map[Status][]Status{
		StatusInvalid: {StatusValid},
		StatusValid:   {StatusExpired, StatusRevoked},
		StatusRevoked: {StatusValid, StatusRevokedExpired},
	}
	all := []Status{StatusInvalid, StatusValid, StatusExpired, StatusRevoked, StatusRevokedExpired}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				want = want || ok == to
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	assert.True(t, StatusExpired.IsTerminal())
	assert.True(t, StatusRevokedExpired.IsTerminal())
	assert.False(t, StatusRevoked.IsTerminal())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("REVOKED_EXPIRED")
	require.NoError(t, err)
	assert.Equal(t, StatusRevokedExpired, st)

	_, err = ParseStatus("valid")
	assert.ErrorIs(t, err, sentinel.ErrSerialization)
}

func TestParseRevocationReason(t *testing.T) {
	t.Run("by name, any case", func(t *testing.T) {
		r, err := ParseRevocationReason("KEYCOMPROMISE")
		require.NoError(t, err)
		assert.Equal(t, ReasonKeyCompromise, r)
	})

	t.Run("by code", func(t *testing.T) {
		r, err := ParseRevocationReason("8")
		require.NoError(t, err)
		assert.Equal(t, ReasonRemoveFromCRL, r)
	})

	t.Run("unused code 7", func(t *testing.T) {
		_, err := ParseRevocationReason("7")
		assert.ErrorIs(t, err, sentinel.ErrSerialization)
	})

	assert.Equal(t, "reason(7)", RevocationReason(7).String())
}

func TestNewRevocationInfo(t *testing.T) {
	date := time.Date(2024, 6, 1, 12, 0, 0, 999, time.FixedZone("CEST", 2*3600))
	invalid := date.Add(-time.Hour)
	info, err := NewRevocationInfo(date, ReasonSuperseded, &invalid)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, info.Date.Location())
	assert.Zero(t, info.Date.Nanosecond())
	require.NotNil(t, info.InvalidityDate)
	assert.True(t, info.InvalidityDate.Equal(invalid.Truncate(time.Second)))

	_, err = NewRevocationInfo(time.Time{}, ReasonSuperseded, nil)
	assert.ErrorIs(t, err, sentinel.ErrSerialization)
	_, err = NewRevocationInfo(date, RevocationReason(42), nil)
	assert.ErrorIs(t, err, sentinel.ErrSerialization)
}

func TestMetaInfoKeepsInsertionOrder(t *testing.T) {
	m := NewMetaInfo("zone", "eu", "app", "billing")
	m.Set("owner", "ops")
	m.Set("zone", "us")
	assert.Equal(t, []string{"zone", "app", "owner"}, m.Keys())

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"zone":"us","app":"billing","owner":"ops"}`, string(data))
	assert.Equal(t, `{"zone":"us","app":"billing","owner":"ops"}`, string(data))

	var back MetaInfo
	require.NoError(t, json.Unmarshal([]byte(`{"b":"2","a":"1"}`), &back))
	assert.Equal(t, []string{"b", "a"}, back.Keys())

	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &back))
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &back))

	clone := m.Clone()
	clone.Delete("app")
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, 2, clone.Len())
}
