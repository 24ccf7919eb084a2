package requesttime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"certstore/pkg/requestcontext"
)

func TestMiddlewarePinsRequestTime(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	var seen []time.Time
	h := Middleware(func() time.Time { return fixed })(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = append(seen, requestcontext.Now(r.Context()), requestcontext.Now(r.Context()))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 2)
	assert.Equal(t, seen[0], seen[1])
	assert.True(t, seen[0].Equal(fixed))
	assert.Equal(t, time.UTC, seen[0].Location())
}
