package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	mailboxdomain "crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/internal/mailbox/queue"
	summarydomain "crmsync-backend/internal/summary/domain"
	"crmsync-backend/pkg/fcm"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type sentEvent struct {
	userID string
	name   string
	data   interface{}
}

type fakeSink struct {
	mu     sync.Mutex
	events []sentEvent
}

func (f *fakeSink) SendToUser(userID, event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{userID, event, data})
}

type fakePusher struct {
	mu     sync.Mutex
	calls  []fcm.NotificationData
	reject []string
}

func (f *fakePusher) SendToDevices(ctx context.Context, tokens []string, n fcm.NotificationData) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, n)
	return f.reject, nil
}

type fakeTokens struct {
	mu      sync.Mutex
	tokens  []string
	deleted []string
}

func (f *fakeTokens) TokensByUserID(ctx context.Context, userID string) ([]string, error) {
	return f.tokens, nil
}

func (f *fakeTokens) Delete(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, token)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*EmailEvent
	err    error
}

func (f *fakePublisher) Publish(ctx context.Context, event *EmailEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func incomingEmail() *mailboxdomain.Email {
	return &mailboxdomain.Email{
		ID: "e1", AccountID: "acc", UserID: "u1", CompanyID: "co", ThreadID: "t1",
		From: "ana@client.org", FromName: "Ana", Subject: "Renewal", IsIncoming: true,
		ContactIDs: mailboxdomain.StringArray{"c1"},
	}
}

func TestNotifyNewEmailFansOut(t *testing.T) {
	sink := &fakeSink{}
	pusher := &fakePusher{reject: []string{"stale"}}
	tokens := &fakeTokens{tokens: []string{"good", "stale"}}
	pub := &fakePublisher{}
	svc := NewService(sink, pusher, tokens, pub, discard)

	svc.NotifyNewEmail(context.Background(), &mailboxdomain.EmailAccount{ID: "acc"}, incomingEmail())
	svc.Wait()

	if len(sink.events) != 1 || sink.events[0].userID != "u1" || sink.events[0].name != EventNewEmail {
		t.Fatalf("sse events = %+v", sink.events)
	}
	event := sink.events[0].data.(*EmailEvent)
	if event.EmailID != "e1" || len(event.DealIDs) != 0 || event.DealIDs == nil {
		t.Errorf("event = %+v", event)
	}

	if len(pusher.calls) != 1 || pusher.calls[0].Title != "New email from Ana" || pusher.calls[0].Body != "Renewal" {
		t.Errorf("push calls = %+v", pusher.calls)
	}
	if len(tokens.deleted) != 1 || tokens.deleted[0] != "stale" {
		t.Errorf("deleted tokens = %v, want [stale]", tokens.deleted)
	}
	if len(pub.events) != 1 || pub.events[0].CompanyID != "co" {
		t.Errorf("published = %+v", pub.events)
	}
}

func TestNotifyNewEmailOutgoingSkipsPush(t *testing.T) {
	sink := &fakeSink{}
	pusher := &fakePusher{}
	pub := &fakePublisher{err: errors.New("unavailable")}
	svc := NewService(sink, pusher, &fakeTokens{tokens: []string{"t"}}, pub, discard)

	email := incomingEmail()
	email.IsIncoming = false
	svc.NotifyNewEmail(context.Background(), &mailboxdomain.EmailAccount{}, email)
	svc.Wait()

	if len(pusher.calls) != 0 {
		t.Errorf("push sent for outgoing mail: %+v", pusher.calls)
	}
	if len(sink.events) != 1 || len(pub.events) != 1 {
		t.Errorf("sse=%d published=%d, want 1 each", len(sink.events), len(pub.events))
	}
}

func TestNotifyNewEmailWithOnlySSE(t *testing.T) {
	sink := &fakeSink{}
	svc := NewService(sink, nil, nil, nil, discard)

	svc.NotifyNewEmail(context.Background(), &mailboxdomain.EmailAccount{}, incomingEmail())
	svc.Wait()

	if len(sink.events) != 1 {
		t.Errorf("sse events = %d, want 1", len(sink.events))
	}
}

func TestNotifySummary(t *testing.T) {
	sink := &fakeSink{}
	svc := NewService(sink, nil, nil, nil, discard)

	svc.NotifySummary(context.Background(), &summarydomain.ThreadSummary{
		AccountID: "acc-1", ThreadID: "t1", UserID: "u1", Status: summarydomain.StatusCompleted, Summary: "Deal moves forward.",
	})

	if len(sink.events) != 1 || sink.events[0].name != EventSummaryUpdate {
		t.Fatalf("events = %+v", sink.events)
	}
	got := sink.events[0].data.(SummaryEvent)
	if got.AccountID != "acc-1" || got.Status != summarydomain.PublicCompleted || got.Summary != "Deal moves forward." {
		t.Errorf("summary event = %+v", got)
	}
}

func TestPushContentTruncatesSubject(t *testing.T) {
	email := incomingEmail()
	email.FromName = ""
	email.Subject = strings.Repeat("x", 150)

	n := pushContent(email)
	if n.Title != "New email from ana@client.org" {
		t.Errorf("title = %q", n.Title)
	}
	if len(n.Body) != maxSubjectLen || !strings.HasSuffix(n.Body, "...") {
		t.Errorf("body length = %d", len(n.Body))
	}
	if n.Data["click_action"] != "/inbox/e1" {
		t.Errorf("click_action = %q", n.Data["click_action"])
	}
}

type fakeFinder struct {
	accounts []*mailboxdomain.EmailAccount
	lookups  int
}

func (f *fakeFinder) FindByEmailAddress(ctx context.Context, provider mailboxdomain.Provider, address string) ([]*mailboxdomain.EmailAccount, error) {
	f.lookups++
	if provider != mailboxdomain.ProviderGmail || address != "owner@example.com" {
		return nil, nil
	}
	return f.accounts, nil
}

type fakeEnqueuer struct {
	jobs []string
	prio []queue.Priority
}

func (f *fakeEnqueuer) EnqueueSync(accountID, userID string, p queue.Priority) bool {
	f.jobs = append(f.jobs, accountID)
	f.prio = append(f.prio, p)
	return true
}

func TestGmailWatcherEnqueuesHighPriority(t *testing.T) {
	finder := &fakeFinder{accounts: []*mailboxdomain.EmailAccount{{ID: "acc-1", UserID: "u1"}}}
	q := &fakeEnqueuer{}
	w := newGmailWatcher(finder, q, discard)
	ctx := context.Background()

	if n := w.handle(ctx, []byte(`{"emailAddress":"Owner@Example.com","historyId":100}`)); n != 1 {
		t.Fatalf("handle() = %d, want 1", n)
	}
	// Redelivery and older history ids are ignored.
	w.handle(ctx, []byte(`{"emailAddress":"owner@example.com","historyId":100}`))
	w.handle(ctx, []byte(`{"emailAddress":"owner@example.com","historyId":99}`))
	w.handle(ctx, []byte(`not json`))

	if len(q.jobs) != 1 || q.jobs[0] != "acc-1" || q.prio[0] != queue.PriorityHigh {
		t.Errorf("enqueued = %v %v", q.jobs, q.prio)
	}
	if finder.lookups != 1 {
		t.Errorf("lookups = %d, want 1", finder.lookups)
	}

	if n := w.handle(ctx, []byte(`{"emailAddress":"owner@example.com","historyId":101}`)); n != 1 {
		t.Errorf("newer history handle() = %d, want 1", n)
	}
}
