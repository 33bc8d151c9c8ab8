package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadharvest/leadharvest/internal/discovery"
)

func newSiteServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var kontaktHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
		<a href="mailto:info@firma.de">Mail</a>
		<a href="/kontakt">Kontakt</a>
		</body></html>`))
	})
	mux.HandleFunc("/kontakt", func(w http.ResponseWriter, r *http.Request) {
		kontaktHits++
		w.Write([]byte(`<html><body>
		<a href="tel:+49 30 5550100">Anrufen</a>
		</body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &kontaktHits
}

func TestProbeFollowsContactPage(t *testing.T) {
	t.Parallel()

	srv, kontaktHits := newSiteServer(t)
	prober := NewProber(Config{MaxPages: 3}, nil, nil, nil)

	cands, err := prober.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.EqualValues(t, 1, *kontaktHits)

	values := map[discovery.ContactType]string{}
	for _, c := range cands {
		values[c.Type] = c.Value
	}
	assert.Equal(t, "info@firma.de", values[discovery.ContactTypeEmail])
	assert.Equal(t, "+49 30 5550100", values[discovery.ContactTypePhone])
}

func TestProbeHonorsPageBudget(t *testing.T) {
	t.Parallel()

	srv, kontaktHits := newSiteServer(t)
	prober := NewProber(Config{MaxPages: 1}, nil, nil, nil)

	cands, err := prober.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.EqualValues(t, 0, *kontaktHits)

	for _, c := range cands {
		assert.NotEqual(t, discovery.ContactTypePhone, c.Type)
	}
}

func TestProbeInvalidURL(t *testing.T) {
	t.Parallel()

	_, err := NewProber(Config{}, nil, nil, nil).Probe(context.Background(), "::bad::")
	require.Error(t, err)
}

func TestProbeHomepageFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := NewProber(Config{}, nil, nil, nil).Probe(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestDomainLimiterIsPerHost(t *testing.T) {
	t.Parallel()

	limiter := NewDomainLimiter(LimiterConfig{RequestsPerSecond: 0.1, Burst: 1})

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background(), "https://a.example/"))
	require.NoError(t, limiter.Wait(context.Background(), "https://b.example/"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDomainLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	limiter := NewDomainLimiter(LimiterConfig{RequestsPerSecond: 0.01, Burst: 1})
	require.NoError(t, limiter.Wait(context.Background(), "https://slow.example/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := limiter.Wait(ctx, "https://slow.example/")
	require.Error(t, err)
}

func TestDomainLimiterUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	limiter := NewDomainLimiter(LimiterConfig{})
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, limiter.Wait(context.Background(), "https://any.example/"))
	}
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}
