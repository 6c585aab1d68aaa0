package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/dialbridge-backend/internal/db"
	"github.com/yungbote/dialbridge-backend/internal/domain"
	"github.com/yungbote/dialbridge-backend/internal/extraction"
	"github.com/yungbote/dialbridge-backend/internal/pkg/logger"
	"github.com/yungbote/dialbridge-backend/internal/repos"
	"github.com/yungbote/dialbridge-backend/internal/sse"
	"github.com/yungbote/dialbridge-backend/internal/telephony"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

// fakeGateway scripts PlaceCall outcomes per phone number and records every
// placement. Provider refs encode phone and attempt so tests can synthesize
// callbacks for specific attempts.
type fakeGateway struct {
	mu          sync.Mutex
	placeErrs   map[string][]error // phone -> errors by attempt, nil = success
	placed      []string           // refs in placement order
	attempts    map[string]int     // phone -> placements so far
	transcript  string
	inFlight    int
	maxInFlight int
	gate        chan struct{} // when set, PlaceCall blocks until closed
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		placeErrs:  map[string][]error{},
		attempts:   map[string]int{},
		transcript: "Agent: confirmed for Tuesday. Contact: yes, Tuesday works.",
	}
}

func (g *fakeGateway) failWith(phone string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.placeErrs[phone] = errs
}

func (g *fakeGateway) PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (string, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	gate := g.gate
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight--

	g.attempts[req.PhoneNumber]++
	attempt := g.attempts[req.PhoneNumber]
	if errs := g.placeErrs[req.PhoneNumber]; len(errs) >= attempt && errs[attempt-1] != nil {
		return "", errs[attempt-1]
	}
	ref := fmt.Sprintf("ref-%s-%d", req.PhoneNumber, attempt)
	g.placed = append(g.placed, ref)
	return ref, nil
}

func (g *fakeGateway) FetchTranscript(ctx context.Context, providerCallRef, recordingURL string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transcript, nil
}

func (g *fakeGateway) placedRefs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.placed))
	copy(out, g.placed)
	return out
}

func (g *fakeGateway) attemptCount(phone string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts[phone]
}

type testEnv struct {
	db           *gorm.DB
	gateway      *fakeGateway
	dispatcher   *Dispatcher
	callbacks    CallbackService
	campaigns    CampaignService
	lifecycle    *CallLifecycle
	callRepo     repos.CallRepo
	campaignRepo repos.CampaignRepo
	contactRepo  repos.ContactRepo
	eventRepo    repos.CallEventRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb := openTestDB(t)
	log := logger.NewNop()

	callRepo := repos.NewCallRepo(gdb, log)
	campaignRepo := repos.NewCampaignRepo(gdb, log)
	contactRepo := repos.NewContactRepo(gdb, log)
	eventRepo := repos.NewCallEventRepo(gdb, log)

	policy := domain.RetryPolicy{
		BaseDelay: 1 * time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
		Rand:      func() float64 { return 0.5 },
	}
	lifecycle := NewCallLifecycle(gdb, log, callRepo, policy)

	hub := sse.NewSSEHub(log)
	campaigns := NewCampaignService(gdb, log, hub, campaignRepo, contactRepo, callRepo, 2)

	gateway := newFakeGateway()
	gen := &stubGenerator{reply: `{"value": "Tuesday", "confidence": 0.9}`}
	pipeline := extraction.NewPipeline(log, gen, 4)

	dispatcher := NewDispatcher(gdb, log, DispatcherConfig{
		Tick:              10 * time.Millisecond,
		PlaceCallTimeout:  2 * time.Second,
		DispatchTimeout:   time.Minute,
		CallTimeout:       time.Minute,
		RateLimitCooldown: time.Minute,
		GlobalCallsPerSec: 10000,
		GlobalBurst:       100,
		CallbackURL:       "http://localhost/webhooks/telephony/status",
	}, gateway, lifecycle, campaigns, callRepo, campaignRepo)

	callbacks := NewCallbackService(gdb, log, telephony.NewMemBus(16), gateway, pipeline, lifecycle, campaigns, callRepo, eventRepo, campaignRepo, 5*time.Second)

	return &testEnv{
		db:           gdb,
		gateway:      gateway,
		dispatcher:   dispatcher,
		callbacks:    callbacks,
		campaigns:    campaigns,
		lifecycle:    lifecycle,
		callRepo:     callRepo,
		campaignRepo: campaignRepo,
		contactRepo:  contactRepo,
		eventRepo:    eventRepo,
	}
}

type stubGenerator struct {
	reply string
	err   error
}

func (s *stubGenerator) GenerateText(ctx context.Context, system, user string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
