package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atlalli/redemption/internal/catalog"
	"github.com/atlalli/redemption/internal/conversion"
	"github.com/atlalli/redemption/internal/domain"
	"github.com/atlalli/redemption/internal/ledger"
	"github.com/atlalli/redemption/internal/token"
)

// ---------- Mocks ----------

type mockBus struct {
	mu       sync.Mutex
	subjects []string
}

func (m *mockBus) Publish(_ context.Context, subject string, _ interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	return nil
}

func (m *mockBus) Close() error { return nil }

func (m *mockBus) published(subject string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subjects {
		if s == subject {
			return true
		}
	}
	return false
}

type mockMailer struct {
	mu      sync.Mutex
	invites []string
}

func (m *mockMailer) SendGuestInvite(email, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites = append(m.invites, email)
	return nil
}

// ---------- Fixture ----------

const refreshWindow = 30 * time.Second

var testKeys = token.StaticKeyStore{
	"v1": "secret-v1-0123456789",
	"v2": "secret-v2-0123456789",
}

type fixture struct {
	svc    *Service
	signer *token.Signer
	ledger *ledger.MemoryLedger
	convs  *conversion.MemoryStore
	mailer *mockMailer
	bus    *mockBus
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	cat := catalog.NewMemoryCatalog(
		domain.Coupon{ID: "p1", VenueIDs: []string{"v1", "v2"}, EndDate: now.Add(30 * 24 * time.Hour), Tier: domain.TierStandard},
		domain.Coupon{ID: "p2", VenueIDs: []string{"v1"}, EndDate: now.Add(30 * 24 * time.Hour), Tier: domain.TierPremium},
		domain.Coupon{ID: "p_closed", VenueIDs: []string{"v1"}, EndDate: now.Add(-48 * time.Hour), Tier: domain.TierStandard},
	)

	led := ledger.NewMemoryLedger()
	convStore := conversion.NewMemoryStore()
	mailer := &mockMailer{}
	bus := &mockBus{}
	convs := conversion.NewService(convStore, mailer, bus)

	svc := NewService(token.NewVerifier(testKeys), cat, led, convs, bus).WithClock(clock)

	return &fixture{
		svc:    svc,
		signer: token.NewSignerAt(testKeys, clock),
		ledger: led,
		convs:  convStore,
		mailer: mailer,
		bus:    bus,
		now:    now,
	}
}

func (f *fixture) encodedToken(t *testing.T, promo, venue, subject string) string {
	t.Helper()
	tok, err := f.signer.Sign(promo, venue, subject)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	encoded, err := token.Encode(tok)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return encoded
}

func expectReject(t *testing.T, out *Outcome, reason Reason) {
	t.Helper()
	if out.State != StateError {
		t.Fatalf("state = %s, want error", out.State)
	}
	if out.Reason != reason {
		t.Fatalf("reason = %s, want %s", out.Reason, reason)
	}
}

// ---------- Scan ladder ----------

func TestScan_GarbageInput_NotRecognized(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.Scan(context.Background(), "definitely-not-a-token", "v1", "dev-1", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}
	expectReject(t, out, ReasonNotRecognized)
}

func TestScan_TamperedToken_NotRecognized(t *testing.T) {
	f := newFixture(t)
	encoded := f.encodedToken(t, "p1", "v1", "member-42")

	tok, _ := token.Decode(encoded)
	tok.Payload.PromotionID = "p2"
	tampered, _ := token.Encode(tok)

	out, err := f.svc.Scan(context.Background(), tampered, "v1", "dev-1", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}
	expectReject(t, out, ReasonNotRecognized)
}

func TestScan_UnknownVenueToken_CollapsesToNotRecognized(t *testing.T) {
	f := newFixture(t)
	// Signed with a secret the key store no longer knows under that id.
	foreign := token.StaticKeyStore{"v_gone": "some-other-secret-000"}
	tok, err := token.NewSignerAt(foreign, func() time.Time { return f.now }).Sign("p1", "v_gone", "member-42")
	if err != nil {
		t.Fatal(err)
	}
	encoded, _ := token.Encode(tok)

	out, err := f.svc.Scan(context.Background(), encoded, "v1", "dev-1", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}
	// Never reveal whether it was the signature or the venue.
	expectReject(t, out, ReasonNotRecognized)
}

func TestScan_LocationMismatch(t *testing.T) {
	f := newFixture(t)
	encoded := f.encodedToken(t, "p1", "v1", "member-42")

	out, err := f.svc.Scan(context.Background(), encoded, "v2", "dev-1", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}
	expectReject(t, out, ReasonLocationMismatch)
}

func TestScan_PromotionEnded(t *testing.T) {
	f := newFixture(t)
	encoded := f.encodedToken(t, "p_closed", "v1", "member-42")

	out, err := f.svc.Scan(context.Background(), encoded, "v1", "dev-1", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}
	expectReject(t, out, ReasonPromotionEnded)
}

func TestScan_FreshnessBoundary(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name      string
		issuedAgo time.Duration
		wantLive  bool
	}{
		{"well within window", 5 * time.Second, true},
		{"one second inside", refreshWindow - time.Second, true},
		{"exactly at window", refreshWindow, true}, // equality is pinned to live
		{"one second past", refreshWindow + time.Second, false},
		{"long stale", refreshWindow + 5*time.Second, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			signed := time.Unix(f.now.Unix()-int64(tc.issuedAgo.Seconds()), 0)
			tok, err := token.NewSignerAt(testKeys, func() time.Time { return signed }).Sign("p1", "v1", "member-42")
			if err != nil {
				t.Fatal(err)
			}
			encoded, _ := token.Encode(tok)

			device := "dev-" + tc.name
			out, err := f.svc.Scan(context.Background(), encoded, "v1", device, refreshWindow)
			if err != nil {
				t.Fatal(err)
			}
			if tc.wantLive {
				if out.State != StateBillForm {
					t.Fatalf("expected bill form, got %s/%s", out.State, out.Reason)
				}
			} else {
				expectReject(t, out, ReasonStaleScreenshot)
			}
		})
	}
}

func TestScan_ClassifiesSubject(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.Scan(context.Background(), f.encodedToken(t, "p1", "v1", "member-42"), "v1", "dev-1", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}
	if out.Claim == nil || out.Claim.Subject.IsGuest() || out.Claim.Subject.MemberID != "member-42" {
		t.Fatalf("member claim misclassified: %+v", out.Claim)
	}
	if out.Claim.Tier != domain.TierStandard {
		t.Fatalf("tier not captured: %s", out.Claim.Tier)
	}

	out, err = f.svc.Scan(context.Background(), f.encodedToken(t, "p1", "v1", "Guest@Example.com"), "v1", "dev-2", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}
	if out.Claim == nil || !out.Claim.Subject.IsGuest() || out.Claim.Subject.GuestEmail != "guest@example.com" {
		t.Fatalf("guest claim misclassified: %+v", out.Claim)
	}
}

func TestScan_SecondScanWhileInFlight(t *testing.T) {
	f := newFixture(t)
	encoded := f.encodedToken(t, "p1", "v1", "member-42")

	out, err := f.svc.Scan(context.Background(), encoded, "v1", "dev-1", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateBillForm {
		t.Fatalf("expected bill form, got %s", out.State)
	}

	// Device is holding the bill form; a second scan on it is dropped.
	if _, err := f.svc.Scan(context.Background(), encoded, "v1", "dev-1", refreshWindow); !errors.Is(err, ErrScanInFlight) {
		t.Fatalf("expected ErrScanInFlight, got %v", err)
	}

	// Another device is unaffected, and the first recovers after reset.
	if _, err := f.svc.Scan(context.Background(), encoded, "v1", "dev-2", refreshWindow); err != nil {
		t.Fatalf("independent device blocked: %v", err)
	}
	f.svc.Reset("dev-1")
	if _, err := f.svc.Scan(context.Background(), encoded, "v1", "dev-1", refreshWindow); err != nil {
		t.Fatalf("reset device still blocked: %v", err)
	}
}

// ---------- End-to-end scenarios ----------

func TestEndToEnd_MemberRedeemThenReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	encoded := f.encodedToken(t, "p1", "v1", "member-42")

	out, err := f.svc.Scan(ctx, encoded, "v1", "dev-1", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateBillForm {
		t.Fatalf("expected bill form, got %s/%s", out.State, out.Reason)
	}

	record, confirmOut, err := f.svc.Confirm(ctx, out.Claim, "B-1", "staff-7", "dev-1")
	if err != nil {
		t.Fatal(err)
	}
	if confirmOut.State != StateSuccess {
		t.Fatalf("confirm outcome %s/%s", confirmOut.State, confirmOut.Reason)
	}
	if record.MemberID != "member-42" || record.BillRef != "B-1" || record.StaffID != "staff-7" {
		t.Fatalf("bad record: %+v", record)
	}
	if record.Tier != domain.TierStandard {
		t.Fatalf("tier not captured at commit: %s", record.Tier)
	}
	if !f.bus.published("redemption.committed") {
		t.Fatal("redemption event not published")
	}

	// Replaying the identical encoded string is rejected at scan time.
	f.svc.Reset("dev-1")
	replay, err := f.svc.Scan(ctx, encoded, "v1", "dev-1", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}
	expectReject(t, replay, ReasonAlreadyRedeemedMember)
}

func TestEndToEnd_MemberFreeAtOtherVenue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Scan(ctx, f.encodedToken(t, "p1", "v1", "member-42"), "v1", "dev-1", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.svc.Confirm(ctx, out.Claim, "B-1", "staff-7", "dev-1"); err != nil {
		t.Fatal(err)
	}

	// Same promotion, different venue: allowed for members.
	out2, err := f.svc.Scan(ctx, f.encodedToken(t, "p1", "v2", "member-42"), "v2", "dev-2", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}
	if out2.State != StateBillForm {
		t.Fatalf("member blocked at other venue: %s/%s", out2.State, out2.Reason)
	}
}

func TestEndToEnd_StaleScreenshotNeverRedeemable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	signed := f.now.Add(-(refreshWindow + 5*time.Second))
	tok, err := token.NewSignerAt(testKeys, func() time.Time { return signed }).Sign("p1", "v1", "member-42")
	if err != nil {
		t.Fatal(err)
	}
	encoded, _ := token.Encode(tok)

	// Valid signature, never redeemed, still rejected as a screenshot.
	out, err := f.svc.Scan(ctx, encoded, "v1", "dev-1", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}
	expectReject(t, out, ReasonStaleScreenshot)
}

func TestEndToEnd_GuestSingleRedemptionAcrossVenues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Scan(ctx, f.encodedToken(t, "p1", "v1", "guest@example.com"), "v1", "dev-1", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateBillForm {
		t.Fatalf("guest scan: %s/%s", out.State, out.Reason)
	}

	record, _, err := f.svc.Confirm(ctx, out.Claim, "B-9", "staff-7", "dev-1")
	if err != nil {
		t.Fatal(err)
	}
	if record.GuestEmail != "guest@example.com" || record.MemberID != "" {
		t.Fatalf("guest record wrong: %+v", record)
	}

	// A conversion marker is created pending, the invite goes out, and the
	// event is published.
	pending, err := f.convs.ListPending(ctx, "v1", 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending conversions = %v, %v", pending, err)
	}
	if pending[0].Status != domain.ConversionPending {
		t.Fatalf("conversion status %s", pending[0].Status)
	}
	if len(f.mailer.invites) != 1 || f.mailer.invites[0] != "guest@example.com" {
		t.Fatalf("invite mail not sent: %v", f.mailer.invites)
	}
	if !f.bus.published("guest.conversion.pending") {
		t.Fatal("conversion event not published")
	}

	// Different promotion, different venue, fresh token: still blocked.
	out2, err := f.svc.Scan(ctx, f.encodedToken(t, "p1", "v2", "guest@example.com"), "v2", "dev-2", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}
	expectReject(t, out2, ReasonAlreadyRedeemedGuest)
}

func TestConfirm_ConcurrentRace_OneSuccessOneConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Scan(ctx, f.encodedToken(t, "p1", "v1", "member-42"), "v1", "dev-1", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}

	// Two devices commit the identical verified claim simultaneously.
	type result struct {
		record  *domain.RedemptionRecord
		outcome *Outcome
		err     error
	}
	results := make(chan result, 2)
	var start sync.WaitGroup
	start.Add(1)
	for _, dev := range []string{"dev-1", "dev-2"} {
		go func(dev string) {
			start.Wait()
			r, o, err := f.svc.Confirm(ctx, out.Claim, "B-1", "staff-7", dev)
			results <- result{r, o, err}
		}(dev)
	}
	start.Done()

	var successes, conflicts int
	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			t.Fatalf("confirm error: %v", res.err)
		}
		switch res.outcome.State {
		case StateSuccess:
			successes++
		case StateError:
			if res.outcome.Reason != ReasonAlreadyRedeemedMember {
				t.Fatalf("conflict reason = %s", res.outcome.Reason)
			}
			conflicts++
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("got %d successes, %d conflicts; want exactly one of each", successes, conflicts)
	}
}

func TestConfirm_RequiresBillRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Scan(ctx, f.encodedToken(t, "p1", "v1", "member-42"), "v1", "dev-1", refreshWindow)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.svc.Confirm(ctx, out.Claim, "", "staff-7", "dev-1"); err == nil {
		t.Fatal("confirm accepted empty bill reference")
	}
}
