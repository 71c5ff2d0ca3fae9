package gateway

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ggoodman/tokengate/auth"
	"github.com/ggoodman/tokengate/auth/authtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsOutcomes(t *testing.T) {
	iss := authtest.NewIssuer(t)
	reg := prometheus.NewPedanticRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	h, err := New("http://gateway.test", newProvider(t, iss, auth.ModeOffline), WithLogger(quietLogger()), WithMetrics(m))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	good := iss.Sign(t, iss.Claims("user-1", time.Hour))
	get(t, srv, "/secure", "Bearer "+good)
	get(t, srv, "/secure", "Bearer "+good)
	get(t, srv, "/secure", "")
	get(t, srv, "/secure", "Bearer not.a.jwt")

	if got := testutil.ToFloat64(m.Checks.WithLabelValues("offline", "accepted", "")); got != 2 {
		t.Fatalf("accepted = %v", got)
	}
	if got := testutil.ToFloat64(m.Checks.WithLabelValues("offline", "rejected", string(auth.ReasonMissingHeader))); got != 1 {
		t.Fatalf("missing header = %v", got)
	}
	if got := testutil.ToFloat64(m.Checks.WithLabelValues("offline", "rejected", string(auth.ReasonMalformedToken))); got != 1 {
		t.Fatalf("malformed = %v", got)
	}
	// Extraction failures never reach a verifier and are not timed.
	if n := testutil.CollectAndCount(m.Duration); n != 1 {
		t.Fatalf("duration series = %d", n)
	}
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewMetrics(reg); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := NewMetrics(reg); err == nil {
		t.Fatal("expected error registering twice")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.observe(auth.ModeOffline, "", 0)
}
