package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nocdesk/helpdeskbot/internal/models"
)

// fakeTokens is a TokenSource that hands out tokens from a list and records
// invalidations.
type fakeTokens struct {
	tokens      []string
	next        int
	invalidated int
}

func (f *fakeTokens) GetToken(ctx context.Context, operator string) (string, error) {
	if f.next >= len(f.tokens) {
		return "", errors.New("no more tokens")
	}
	t := f.tokens[f.next]
	return t, nil
}

func (f *fakeTokens) Invalidate(operator string) error {
	f.invalidated++
	f.next++
	return nil
}

func newTestGateway(t *testing.T, handler http.HandlerFunc, tokens TokenSource) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gw := NewGateway(WithBaseURL(srv.URL), WithCredentials("bot", "secret"))
	if tokens != nil {
		gw.SetTokenSource(tokens)
	}
	return gw
}

func TestLogin(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Fatalf("bad login body: %v", err)
		}
		if creds["username"] != "bot" || creds["password"] != "secret" {
			t.Errorf("unexpected credentials: %v", creds)
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1"})
	}, nil)

	token, err := gw.Login(context.Background())
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if token != "tok-1" {
		t.Errorf("expected tok-1, got %q", token)
	}
}

func TestCreateTicketIsUnprivileged(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("intake call must not carry a bearer token")
		}
		json.NewEncoder(w).Encode(models.Ticket{ID: "1", TicketNumber: "TKT-001"})
	}, nil)

	created, outcome, err := gw.CreateTicket(context.Background(), models.TicketCreate{Category: "VULA"})
	if err != nil || outcome != OutcomeOK {
		t.Fatalf("CreateTicket failed: outcome=%s err=%v", outcome, err)
	}
	if created.TicketNumber != "TKT-001" {
		t.Errorf("unexpected ticket: %+v", created)
	}
}

func TestUnauthorizedRetriesOnceWithFreshToken(t *testing.T) {
	tokens := &fakeTokens{tokens: []string{"stale", "fresh"}}
	var seen []string
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		seen = append(seen, auth)
		if auth != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode([]models.Ticket{})
	}, tokens)

	_, outcome, err := gw.ListTickets(context.Background(), "op-1")
	if err != nil || outcome != OutcomeOK {
		t.Fatalf("expected retry to succeed, outcome=%s err=%v", outcome, err)
	}
	if len(seen) != 2 || seen[0] != "stale" || seen[1] != "fresh" {
		t.Errorf("expected stale then fresh token, saw %v", seen)
	}
	if tokens.invalidated != 1 {
		t.Errorf("expected exactly one invalidation, got %d", tokens.invalidated)
	}
}

func TestUnauthorizedTwiceIsFatal(t *testing.T) {
	tokens := &fakeTokens{tokens: []string{"bad", "still-bad"}}
	calls := 0
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}, tokens)

	_, outcome, err := gw.ListTickets(context.Background(), "op-1")
	if outcome != OutcomeUnauthorized {
		t.Errorf("expected unauthorized outcome, got %s", outcome)
	}
	if !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected exactly two attempts, got %d", calls)
	}
}

func TestUnauthorizedWithoutOperatorIsNotRetried(t *testing.T) {
	calls := 0
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}, nil)

	_, outcome, err := gw.CreateTicket(context.Background(), models.TicketCreate{})
	if outcome != OutcomeUnauthorized || !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("expected unauthorized outcome, got %s %v", outcome, err)
	}
	if calls != 1 {
		t.Errorf("expected single attempt for unprivileged call, got %d", calls)
	}
}

func TestConflictPassesThroughDetail(t *testing.T) {
	tokens := &fakeTokens{tokens: []string{"tok"}}
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Tiket sudah diambil oleh agent_budi"})
	}, tokens)

	status := models.TicketStatusInProgress
	outcome, err := gw.UpdateTicket(context.Background(), "1", models.TicketUpdate{Status: &status}, "op-1")
	if outcome != OutcomeConflict {
		t.Errorf("expected conflict outcome, got %s", outcome)
	}
	if !errors.Is(err, models.ErrClaimConflict) {
		t.Errorf("expected ErrClaimConflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "agent_budi") {
		t.Errorf("expected conflict detail preserved, got %v", err)
	}
	if tokens.invalidated != 0 {
		t.Error("conflict must not invalidate the token")
	}
}

func TestNotFoundOutcome(t *testing.T) {
	tokens := &fakeTokens{tokens: []string{"tok"}}
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, tokens)

	_, outcome, err := gw.GetTicket(context.Background(), "missing", "op-1")
	if outcome != OutcomeNotFound || err == nil {
		t.Errorf("expected not found outcome with error, got %s %v", outcome, err)
	}
}

func TestServerErrorIsNotRetried(t *testing.T) {
	tokens := &fakeTokens{tokens: []string{"tok"}}
	calls := 0
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}, tokens)

	_, outcome, err := gw.ListOpenTickets(context.Background(), "op-1")
	if outcome != OutcomeError || err == nil {
		t.Errorf("expected error outcome, got %s %v", outcome, err)
	}
	if calls != 1 {
		t.Errorf("expected no retry on server error, got %d attempts", calls)
	}
}

func TestFindTicketByNumber(t *testing.T) {
	tokens := &fakeTokens{tokens: []string{"tok"}}
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]models.Ticket{
			{ID: "1", TicketNumber: "TKT-001"},
			{ID: "2", TicketNumber: "TKT-002"},
		})
	}, tokens)

	found, outcome, err := gw.FindTicketByNumber(context.Background(), "TKT-002", "op-1")
	if err != nil || outcome != OutcomeOK {
		t.Fatalf("FindTicketByNumber failed: outcome=%s err=%v", outcome, err)
	}
	if found.ID != "2" {
		t.Errorf("expected ticket 2, got %+v", found)
	}

	_, outcome, err = gw.FindTicketByNumber(context.Background(), "TKT-999", "op-1")
	if outcome != OutcomeNotFound || err == nil {
		t.Errorf("expected not found for unknown number, got %s %v", outcome, err)
	}
}

func TestMarkCommentSent(t *testing.T) {
	tokens := &fakeTokens{tokens: []string{"tok"}}
	var gotPath string
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		w.WriteHeader(http.StatusOK)
	}, tokens)

	outcome, err := gw.MarkCommentSent(context.Background(), "c-7", "relay")
	if err != nil || outcome != OutcomeOK {
		t.Fatalf("MarkCommentSent failed: outcome=%s err=%v", outcome, err)
	}
	if gotPath != "PUT /comments/c-7/mark-sent" {
		t.Errorf("unexpected request %q", gotPath)
	}
}
