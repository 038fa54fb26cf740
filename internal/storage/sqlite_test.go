package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustInsertKnowledge(t *testing.T, s *Store, question, answer string) KnowledgeEntry {
	t.Helper()
	e, err := s.InsertKnowledge(context.Background(), question, answer, "")
	if err != nil {
		t.Fatalf("InsertKnowledge(%q): %v", question, err)
	}
	return e
}

func mustCreateRequest(t *testing.T, s *Store, question string) HelpRequest {
	t.Helper()
	hr, err := s.CreateHelpRequest(context.Background(), question, "+15550100")
	if err != nil {
		t.Fatalf("CreateHelpRequest(%q): %v", question, err)
	}
	return hr
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if _, err := s1.InsertKnowledge(context.Background(), "Do you take walk-ins?", "Yes, until 4pm.", ""); err != nil {
		t.Fatalf("InsertKnowledge: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}

	got, err := s2.SearchKnowledge(context.Background(), "walk-ins")
	if err != nil {
		t.Fatalf("SearchKnowledge after reopen: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected entry to survive reopen, got %d results", len(got))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) < 2 {
		t.Fatalf("expected at least two applied migrations, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_knowledge_usage", "idx_knowledge_created", "idx_help_requests_status_created", "idx_help_requests_timeout"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestKnowledgeFTSTableExists(t *testing.T) {
	s := openTestStore(t)

	var name string
	err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='knowledge_fts'").Scan(&name)
	if err != nil {
		t.Fatalf("knowledge_fts table not found: %v", err)
	}
}

func TestInsertAndGetKnowledge(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, WithClock(clock))
	ctx := context.Background()

	e, err := s.InsertKnowledge(ctx, "  What are your hours?  ", " We are open 9am to 6pm. ", "req-1")
	if err != nil {
		t.Fatalf("InsertKnowledge: %v", err)
	}
	if e.ID == "" {
		t.Fatal("expected generated ID")
	}

	want := KnowledgeEntry{
		ID:              e.ID,
		Question:        "What are your hours?",
		Answer:          "We are open 9am to 6pm.",
		CreatedAt:       clock.Now(),
		SourceRequestID: "req-1",
	}
	if diff := cmp.Diff(want, e); diff != "" {
		t.Errorf("inserted entry mismatch (-want +got):\n%s", diff)
	}

	got, err := s.GetKnowledge(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetKnowledge: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stored entry mismatch (-want +got):\n%s", diff)
	}
}

func TestInsertKnowledge_RejectsBlank(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertKnowledge(ctx, "   ", "answer", ""); err == nil {
		t.Error("expected error for blank question")
	}
	if _, err := s.InsertKnowledge(ctx, "question", "\t", ""); err == nil {
		t.Error("expected error for blank answer")
	}

	all, err := s.ListKnowledge(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListKnowledge: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected no entries, got %d", len(all))
	}
}

func TestInsertKnowledge_AllowsDuplicates(t *testing.T) {
	s := openTestStore(t)

	a := mustInsertKnowledge(t, s, "Do you sell gift cards?", "Yes.")
	b := mustInsertKnowledge(t, s, "Do you sell gift cards?", "Yes.")
	if a.ID == b.ID {
		t.Error("expected distinct IDs for duplicate entries")
	}
}

func TestGetKnowledgeNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetKnowledge(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchKnowledge_FullTextRanksRelevantFirst(t *testing.T) {
	s := openTestStore(t)

	mustInsertKnowledge(t, s, "Do you offer bridal packages?", "Yes, we have three bridal packages.")
	hours := mustInsertKnowledge(t, s, "What are your hours?", "We are open 9am to 6pm, Monday to Saturday.")
	mustInsertKnowledge(t, s, "Where can I park?", "Free parking behind the salon.")

	got, err := s.SearchKnowledge(context.Background(), "what are your hours")
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one result")
	}
	if got[0].ID != hours.ID {
		t.Errorf("top result = %q, want %q", got[0].Question, hours.Question)
	}
}

func TestSearchKnowledge_StemsTerms(t *testing.T) {
	s := openTestStore(t)

	e := mustInsertKnowledge(t, s, "When do you open?", "We open at 9am.")

	got, err := s.SearchKnowledge(context.Background(), "opening time")
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(got) != 1 || got[0].ID != e.ID {
		t.Errorf("expected stemmed match on %q, got %+v", e.Question, got)
	}
}

func TestSearchKnowledge_SubstringFallback(t *testing.T) {
	s := openTestStore(t)

	e := mustInsertKnowledge(t, s, "Do you do haircuts for kids?", "Yes, kids cuts are $20.")

	// No indexed token is "aircu", so only the substring scan can find it.
	got, err := s.SearchKnowledge(context.Background(), "aircu")
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(got) != 1 || got[0].ID != e.ID {
		t.Errorf("expected substring fallback to find %q, got %+v", e.Question, got)
	}
}

func TestSearchKnowledge_SubstringFallbackFoldsUnicodeCase(t *testing.T) {
	s := openTestStore(t)

	e := mustInsertKnowledge(t, s, "Färbung", "Ja, ab 60 Euro.")

	for _, q := range []string{"ärbu", "ÄRBU", "FÄRBUNG"} {
		got, err := s.SearchKnowledge(context.Background(), q)
		if err != nil {
			t.Fatalf("SearchKnowledge(%q): %v", q, err)
		}
		if len(got) != 1 || got[0].ID != e.ID {
			t.Errorf("SearchKnowledge(%q) = %+v, want %q", q, got, e.Question)
		}
	}
}

func TestFoldText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"FÄRB", "färb"},
		{"Straße", "strasse"},
		{"A\u0308", "ä"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := foldText(tt.in); got != tt.want {
			t.Errorf("foldText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSearchKnowledge_FullTextSurvivesVacuum(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := mustInsertKnowledge(t, s, "Do you sell gift cards?", "Yes, in any amount.")
	mustInsertKnowledge(t, s, "Is there parking?", "Free lot behind the salon.")
	last := mustInsertKnowledge(t, s, "Do you do eyebrow threading?", "Yes, $15.")

	if _, err := s.db.ExecContext(ctx, "DELETE FROM knowledge_entries WHERE question = ?", "Is there parking?"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		t.Fatalf("VACUUM: %v", err)
	}

	for q, want := range map[string]string{"threading": last.ID, "gift": first.ID} {
		got, err := s.SearchKnowledge(ctx, q)
		if err != nil {
			t.Fatalf("SearchKnowledge(%q): %v", q, err)
		}
		if len(got) != 1 || got[0].ID != want {
			t.Errorf("SearchKnowledge(%q) = %+v, want entry %s", q, got, want)
		}
	}
	if got, err := s.SearchKnowledge(ctx, "parking"); err != nil || len(got) != 0 {
		t.Errorf("deleted entry still found: %+v, err = %v", got, err)
	}
}

func TestSearchKnowledge_StopWordsOnlyFallsBack(t *testing.T) {
	s := openTestStore(t)

	e := mustInsertKnowledge(t, s, "What are your prices?", "Cuts start at $40.")

	got, err := s.SearchKnowledge(context.Background(), "What are your")
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(got) != 1 || got[0].ID != e.ID {
		t.Errorf("expected fallback match, got %+v", got)
	}
}

func TestSearchKnowledge_NoMatch(t *testing.T) {
	s := openTestStore(t)

	mustInsertKnowledge(t, s, "What are your hours?", "9 to 6.")

	got, err := s.SearchKnowledge(context.Background(), "valet")
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no results, got %+v", got)
	}
}

func TestSearchKnowledge_EmptyQuery(t *testing.T) {
	s := openTestStore(t)
	mustInsertKnowledge(t, s, "What are your hours?", "9 to 6.")

	got, err := s.SearchKnowledge(context.Background(), "   ")
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no results for blank query, got %d", len(got))
	}
}

func TestSearchKnowledge_Limit(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < DefaultSearchLimit+3; i++ {
		mustInsertKnowledge(t, s, fmt.Sprintf("Is parking available at location %d?", i), "Yes.")
	}

	got, err := s.SearchKnowledge(context.Background(), "parking")
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(got) != DefaultSearchLimit {
		t.Errorf("expected %d results, got %d", DefaultSearchLimit, len(got))
	}
}

func TestSearchKnowledge_QuerySyntaxIsInert(t *testing.T) {
	s := openTestStore(t)
	mustInsertKnowledge(t, s, "Do you take cards?", "Visa and Mastercard.")

	for _, q := range []string{`"cards`, `cards*`, `NEAR(cards)`, `cards OR "`, `-cards`, `'; DROP TABLE knowledge_entries; --`} {
		if _, err := s.SearchKnowledge(context.Background(), q); err != nil {
			t.Errorf("SearchKnowledge(%q) returned error: %v", q, err)
		}
	}
}

func TestRecordUsage(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, WithClock(clock))
	ctx := context.Background()

	e := mustInsertKnowledge(t, s, "Do you do color?", "Yes.")

	clock.Advance(time.Hour)
	for i := 0; i < 3; i++ {
		if err := s.RecordUsage(ctx, e.ID); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	got, err := s.GetKnowledge(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetKnowledge: %v", err)
	}
	if got.UsageCount != 3 {
		t.Errorf("UsageCount = %d, want 3", got.UsageCount)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(clock.Now()) {
		t.Errorf("LastUsedAt = %v, want %v", got.LastUsedAt, clock.Now())
	}
}

func TestRecordUsage_Concurrent(t *testing.T) {
	s := openTestStore(t)
	e := mustInsertKnowledge(t, s, "Do you do color?", "Yes.")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.RecordUsage(context.Background(), e.ID); err != nil {
				t.Errorf("RecordUsage: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.GetKnowledge(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("GetKnowledge: %v", err)
	}
	if got.UsageCount != 20 {
		t.Errorf("UsageCount = %d, want 20", got.UsageCount)
	}
}

func TestRecordUsage_NotFound(t *testing.T) {
	s := openTestStore(t)

	err := s.RecordUsage(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMostUsed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	low := mustInsertKnowledge(t, s, "Q low", "A")
	high := mustInsertKnowledge(t, s, "Q high", "A")
	mid := mustInsertKnowledge(t, s, "Q mid", "A")

	bump := func(id string, n int) {
		for i := 0; i < n; i++ {
			if err := s.RecordUsage(ctx, id); err != nil {
				t.Fatalf("RecordUsage: %v", err)
			}
		}
	}
	bump(high.ID, 5)
	bump(mid.ID, 2)
	bump(low.ID, 1)

	got, err := s.MostUsed(ctx, 2)
	if err != nil {
		t.Fatalf("MostUsed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].ID != high.ID || got[1].ID != mid.ID {
		t.Errorf("MostUsed order = [%s %s], want [%s %s]", got[0].Question, got[1].Question, high.Question, mid.Question)
	}
}

func TestListKnowledge_NewestFirstWithOffset(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, WithClock(clock))

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, mustInsertKnowledge(t, s, fmt.Sprintf("Q%d", i), "A").ID)
		clock.Advance(time.Minute)
	}

	got, err := s.ListKnowledge(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("ListKnowledge: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].ID != ids[2] || got[1].ID != ids[1] {
		t.Errorf("unexpected page: %s, %s", got[0].Question, got[1].Question)
	}
}

func TestCreateHelpRequest(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, WithClock(clock))
	ctx := context.Background()

	hr, err := s.CreateHelpRequest(ctx, " Do you do keratin treatments? ", " +15550100 ")
	if err != nil {
		t.Fatalf("CreateHelpRequest: %v", err)
	}

	want := HelpRequest{
		ID:          hr.ID,
		Question:    "Do you do keratin treatments?",
		CallerPhone: "+15550100",
		Status:      StatusPending,
		CreatedAt:   clock.Now(),
		TimeoutAt:   clock.Now().Add(DefaultEscalationWindow),
	}
	if diff := cmp.Diff(want, hr); diff != "" {
		t.Errorf("created request mismatch (-want +got):\n%s", diff)
	}

	got, err := s.GetHelpRequest(ctx, hr.ID)
	if err != nil {
		t.Fatalf("GetHelpRequest: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stored request mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateHelpRequest_CustomWindow(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, WithClock(clock), WithEscalationWindow(5*time.Minute))

	hr := mustCreateRequest(t, s, "Can I bring my dog?")
	if got := hr.TimeoutAt.Sub(hr.CreatedAt); got != 5*time.Minute {
		t.Errorf("window = %v, want 5m", got)
	}
	if s.Window() != 5*time.Minute {
		t.Errorf("Window() = %v, want 5m", s.Window())
	}
}

func TestCreateHelpRequest_RejectsBlank(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateHelpRequest(ctx, "", "+15550100"); err == nil {
		t.Error("expected error for blank question")
	}
	if _, err := s.CreateHelpRequest(ctx, "Question?", " "); err == nil {
		t.Error("expected error for blank phone")
	}
}

func TestGetHelpRequestNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetHelpRequest(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListHelpRequests_FilterAndOrder(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, WithClock(clock))
	ctx := context.Background()

	first := mustCreateRequest(t, s, "first")
	clock.Advance(time.Minute)
	second := mustCreateRequest(t, s, "second")
	clock.Advance(time.Minute)
	third := mustCreateRequest(t, s, "third")

	if _, err := s.ResolveHelpRequest(ctx, second.ID, "answer", "Ana"); err != nil {
		t.Fatalf("ResolveHelpRequest: %v", err)
	}

	all, err := s.ListHelpRequests(ctx, "")
	if err != nil {
		t.Fatalf("ListHelpRequests: %v", err)
	}
	var order []string
	for _, hr := range all {
		order = append(order, hr.ID)
	}
	if diff := cmp.Diff([]string{third.ID, second.ID, first.ID}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	pending, err := s.ListHelpRequests(ctx, StatusPending)
	if err != nil {
		t.Fatalf("ListHelpRequests(pending): %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	for _, hr := range pending {
		if hr.Status != StatusPending {
			t.Errorf("request %s has status %s in pending list", hr.ID, hr.Status)
		}
	}

	n, err := s.CountHelpRequests(ctx, StatusResolved)
	if err != nil {
		t.Fatalf("CountHelpRequests: %v", err)
	}
	if n != 1 {
		t.Errorf("resolved count = %d, want 1", n)
	}
}

func TestResolveHelpRequest(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, WithClock(clock))
	ctx := context.Background()

	hr := mustCreateRequest(t, s, "Do you do keratin?")
	clock.Advance(10 * time.Minute)

	got, err := s.ResolveHelpRequest(ctx, hr.ID, " Yes, $150. ", "Maria")
	if err != nil {
		t.Fatalf("ResolveHelpRequest: %v", err)
	}
	if got.Status != StatusResolved {
		t.Errorf("Status = %s, want resolved", got.Status)
	}
	if got.Answer != "Yes, $150." {
		t.Errorf("Answer = %q", got.Answer)
	}
	if got.ResolvedBy != "Maria" {
		t.Errorf("ResolvedBy = %q", got.ResolvedBy)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(clock.Now()) {
		t.Errorf("ResolvedAt = %v, want %v", got.ResolvedAt, clock.Now())
	}
	if !got.CreatedAt.Equal(hr.CreatedAt) || !got.TimeoutAt.Equal(hr.TimeoutAt) {
		t.Error("resolve must not change createdAt or timeoutAt")
	}
}

func TestResolveHelpRequest_DefaultResolver(t *testing.T) {
	s := openTestStore(t)
	hr := mustCreateRequest(t, s, "Q?")

	got, err := s.ResolveHelpRequest(context.Background(), hr.ID, "A.", "  ")
	if err != nil {
		t.Fatalf("ResolveHelpRequest: %v", err)
	}
	if got.ResolvedBy != DefaultResolver {
		t.Errorf("ResolvedBy = %q, want %q", got.ResolvedBy, DefaultResolver)
	}
}

func TestResolveHelpRequest_AlreadyResolved(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	hr := mustCreateRequest(t, s, "Q?")

	first, err := s.ResolveHelpRequest(ctx, hr.ID, "first answer", "Ana")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	_, err = s.ResolveHelpRequest(ctx, hr.ID, "second answer", "Ben")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	got, err := s.GetHelpRequest(ctx, hr.ID)
	if err != nil {
		t.Fatalf("GetHelpRequest: %v", err)
	}
	if diff := cmp.Diff(first, got); diff != "" {
		t.Errorf("second resolve modified the record (-want +got):\n%s", diff)
	}
}

func TestResolveHelpRequest_TimedOut(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, WithClock(clock))
	ctx := context.Background()
	hr := mustCreateRequest(t, s, "Q?")

	clock.Advance(DefaultEscalationWindow + time.Second)
	if n, err := s.ExpireOverdue(ctx, clock.Now()); err != nil || n != 1 {
		t.Fatalf("ExpireOverdue = %d, %v; want 1, nil", n, err)
	}

	_, err := s.ResolveHelpRequest(ctx, hr.ID, "late", "Ana")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	got, err := s.GetHelpRequest(ctx, hr.ID)
	if err != nil {
		t.Fatalf("GetHelpRequest: %v", err)
	}
	if got.Status != StatusTimeout || got.Answer != "" || got.ResolvedAt != nil || got.ResolvedBy != "" {
		t.Errorf("timed-out request changed: %+v", got)
	}
}

func TestResolveHelpRequest_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.ResolveHelpRequest(context.Background(), "missing", "A", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExpireOverdue_StrictDeadline(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, WithClock(clock))
	ctx := context.Background()

	hr := mustCreateRequest(t, s, "Q?")

	n, err := s.ExpireOverdue(ctx, hr.TimeoutAt)
	if err != nil {
		t.Fatalf("ExpireOverdue at deadline: %v", err)
	}
	if n != 0 {
		t.Errorf("request expired exactly at its deadline")
	}

	n, err = s.ExpireOverdue(ctx, hr.TimeoutAt.Add(time.Microsecond))
	if err != nil {
		t.Fatalf("ExpireOverdue after deadline: %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d, want 1", n)
	}

	got, _ := s.GetHelpRequest(ctx, hr.ID)
	if got.Status != StatusTimeout {
		t.Errorf("Status = %s, want timeout", got.Status)
	}

	// Terminal records are never touched again.
	n, err = s.ExpireOverdue(ctx, hr.TimeoutAt.Add(time.Hour))
	if err != nil || n != 0 {
		t.Errorf("second sweep = %d, %v; want 0, nil", n, err)
	}
}

func TestExpireOverdue_SkipsResolvedAndFresh(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, WithClock(clock))
	ctx := context.Background()

	resolved := mustCreateRequest(t, s, "resolved")
	stale := mustCreateRequest(t, s, "stale")
	if _, err := s.ResolveHelpRequest(ctx, resolved.ID, "A", ""); err != nil {
		t.Fatalf("ResolveHelpRequest: %v", err)
	}
	clock.Advance(DefaultEscalationWindow + time.Minute)
	fresh := mustCreateRequest(t, s, "fresh")

	n, err := s.ExpireOverdue(ctx, clock.Now())
	if err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d, want 1", n)
	}

	for id, want := range map[string]Status{resolved.ID: StatusResolved, stale.ID: StatusTimeout, fresh.ID: StatusPending} {
		got, err := s.GetHelpRequest(ctx, id)
		if err != nil {
			t.Fatalf("GetHelpRequest: %v", err)
		}
		if got.Status != want {
			t.Errorf("request %q status = %s, want %s", got.Question, got.Status, want)
		}
	}
}

// TestResolveRacesSweep fires a resolve and a sweep at each overdue request
// concurrently. Whichever lands first wins and the loser observes it.
func TestResolveRacesSweep(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, WithClock(clock))
	ctx := context.Background()

	const n = 25
	reqs := make([]HelpRequest, n)
	for i := range reqs {
		reqs[i] = mustCreateRequest(t, s, fmt.Sprintf("Q%d", i))
	}
	clock.Advance(DefaultEscalationWindow + time.Minute)
	sweepAt := clock.Now()

	resolveErrs := make([]error, n)
	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, resolveErrs[i] = s.ResolveHelpRequest(ctx, reqs[i].ID, "answer", "Ana")
		}(i)
		go func() {
			defer wg.Done()
			if _, err := s.ExpireOverdue(ctx, sweepAt); err != nil {
				t.Errorf("ExpireOverdue: %v", err)
			}
		}()
	}
	wg.Wait()

	for i, hr := range reqs {
		got, err := s.GetHelpRequest(ctx, hr.ID)
		if err != nil {
			t.Fatalf("GetHelpRequest: %v", err)
		}
		switch {
		case resolveErrs[i] == nil:
			if got.Status != StatusResolved || got.Answer != "answer" {
				t.Errorf("resolve reported success but record is %+v", got)
			}
		case errors.Is(resolveErrs[i], ErrInvalidState):
			if got.Status != StatusTimeout || got.Answer != "" {
				t.Errorf("resolve lost the race but record is %+v", got)
			}
		default:
			t.Errorf("unexpected resolve error: %v", resolveErrs[i])
		}
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()

	_, err = s.SearchKnowledge(context.Background(), "hours")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping: expected ErrUnavailable, got %v", err)
	}
}

func TestExpiredContextIsTimeout(t *testing.T) {
	s := openTestStore(t)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := s.CreateHelpRequest(ctx, "Q?", "+15550100")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestOpenBackend(t *testing.T) {
	b, err := OpenBackend(context.Background(), DriverSQLite, ":memory:", "")
	if err != nil {
		t.Fatalf("OpenBackend(sqlite): %v", err)
	}
	b.Close()

	if _, err := OpenBackend(context.Background(), DriverPostgres, "", ""); err == nil {
		t.Error("expected error for postgres without DSN")
	}
	if _, err := OpenBackend(context.Background(), "mongo", "", ""); err == nil {
		t.Error("expected error for unknown driver")
	}
}
