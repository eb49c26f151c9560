package store

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hoshiyomi/uranaibot/internal/models"
)

// fullStore is what every backend under test implements.
type fullStore interface {
	Store
	DedupRepo
	OutboxRepo
	JobRepo
}

func testSessionLifecycle(t *testing.T, s fullStore) {
	t.Helper()
	userID := "user-lifecycle-" + uuid.NewString()

	got, err := s.GetSession(userID)
	if err != nil {
		t.Fatalf("GetSession on empty store: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil session for unknown user, got %+v", got)
	}

	sess := models.NewSession(userID, time.Now())
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.CreateSession(sess); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("duplicate CreateSession: got %v, want ErrSessionExists", err)
	}

	got, err = s.GetSession(userID)
	if err != nil {
		t.Fatalf("GetSession after create: %v", err)
	}
	if got == nil {
		t.Fatal("expected session after create, got nil")
	}
	if got.Phase != models.PhaseAwaitingProfile {
		t.Errorf("new session phase = %q, want %q", got.Phase, models.PhaseAwaitingProfile)
	}
	if got.CreditBalance != models.InitialCreditBalance {
		t.Errorf("new session credits = %d, want %d", got.CreditBalance, models.InitialCreditBalance)
	}

	got.Phase = models.PhaseProfileComplete
	got.Profile = &models.Profile{Name: "田中花子", BirthDate: "1990/01/01", Gender: "女性"}
	if err := s.UpdateSession(*got, models.PhaseAwaitingProfile); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err = s.GetSession(userID)
	if err != nil {
		t.Fatalf("GetSession after update: %v", err)
	}
	if got.Phase != models.PhaseProfileComplete {
		t.Errorf("phase after update = %q, want %q", got.Phase, models.PhaseProfileComplete)
	}
	if got.Profile == nil || got.Profile.Name != "田中花子" {
		t.Errorf("profile not persisted: %+v", got.Profile)
	}
}

func testPhaseConflict(t *testing.T, s fullStore) {
	t.Helper()
	userID := "user-conflict-" + uuid.NewString()

	sess := models.NewSession(userID, time.Now())
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// First writer wins.
	sess.Phase = models.PhaseProfileComplete
	if err := s.UpdateSession(sess, models.PhaseAwaitingProfile); err != nil {
		t.Fatalf("first UpdateSession: %v", err)
	}

	// Second writer holds a stale expectation and must stand down.
	stale := sess
	stale.Phase = models.PhaseAwaitingConcern
	if err := s.UpdateSession(stale, models.PhaseAwaitingProfile); !errors.Is(err, ErrPhaseConflict) {
		t.Fatalf("stale UpdateSession: got %v, want ErrPhaseConflict", err)
	}

	got, err := s.GetSession(userID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Phase != models.PhaseProfileComplete {
		t.Errorf("losing writer mutated the row: phase = %q", got.Phase)
	}

	// Updates against a missing row surface as not-found or conflict
	// depending on backend, never as success.
	missing := models.NewSession("user-missing-"+uuid.NewString(), time.Now())
	err = s.UpdateSession(missing, models.PhaseAwaitingProfile)
	if !errors.Is(err, ErrSessionNotFound) && !errors.Is(err, ErrPhaseConflict) {
		t.Fatalf("update of missing session: got %v", err)
	}
}

func testUpdateWithResult(t *testing.T, s fullStore) {
	t.Helper()
	userID := "user-result-" + uuid.NewString()

	sess := models.NewSession(userID, time.Now())
	sess.Phase = models.PhaseProfileComplete
	sess.Profile = &models.Profile{Name: "佐藤", BirthDate: "1985/05/05", Gender: "男性"}
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	result := models.GeneratedResult{
		ID:           uuid.NewString(),
		UserID:       userID,
		Kind:         models.ReadingKindProfile,
		PromptInputs: `{"name":"佐藤"}`,
		OutputText:   "星々はあなたの誠実さを映しています。",
		CreatedAt:    time.Now(),
	}
	sess.Phase = models.PhaseAwaitingConcern
	sess.CreditBalance--
	if err := s.UpdateSessionWithResult(sess, models.PhaseProfileComplete, result); err != nil {
		t.Fatalf("UpdateSessionWithResult: %v", err)
	}

	got, err := s.GetSession(userID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Phase != models.PhaseAwaitingConcern {
		t.Errorf("phase = %q, want %q", got.Phase, models.PhaseAwaitingConcern)
	}
	if got.CreditBalance != models.InitialCreditBalance-1 {
		t.Errorf("credits = %d, want %d", got.CreditBalance, models.InitialCreditBalance-1)
	}

	results, err := s.ListResults(userID)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].OutputText != result.OutputText {
		t.Errorf("result text = %q, want %q", results[0].OutputText, result.OutputText)
	}

	// A conflicting update must append nothing.
	stale := sess
	stale.Phase = models.PhaseOfferShown
	conflictResult := result
	conflictResult.ID = uuid.NewString()
	if err := s.UpdateSessionWithResult(stale, models.PhaseProfileComplete, conflictResult); !errors.Is(err, ErrPhaseConflict) {
		t.Fatalf("conflicting UpdateSessionWithResult: got %v, want ErrPhaseConflict", err)
	}
	results, err = s.ListResults(userID)
	if err != nil {
		t.Fatalf("ListResults after conflict: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("conflicting update appended a result: len = %d", len(results))
	}
}

func testAddCredits(t *testing.T, s fullStore) {
	t.Helper()

	// Top-up before any message creates the session.
	userID := "user-credits-" + uuid.NewString()
	balance, err := s.AddCredits(userID, models.CreditTopUpAmount)
	if err != nil {
		t.Fatalf("AddCredits on missing session: %v", err)
	}
	want := models.InitialCreditBalance + models.CreditTopUpAmount
	if balance != want {
		t.Errorf("balance = %d, want %d", balance, want)
	}

	balance, err = s.AddCredits(userID, models.CreditTopUpAmount)
	if err != nil {
		t.Fatalf("AddCredits on existing session: %v", err)
	}
	if balance != want+models.CreditTopUpAmount {
		t.Errorf("balance after second top-up = %d, want %d", balance, want+models.CreditTopUpAmount)
	}
}

func testDedup(t *testing.T, d DedupRepo) {
	t.Helper()
	msgID := "msg-" + uuid.NewString()

	dup, err := d.IsDuplicate(msgID)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Fatal("unseen message reported as duplicate")
	}

	first, err := d.RecordInbound(msgID, "user-a")
	if err != nil {
		t.Fatalf("RecordInbound: %v", err)
	}
	if !first {
		t.Fatal("first RecordInbound returned false")
	}

	again, err := d.RecordInbound(msgID, "user-a")
	if err != nil {
		t.Fatalf("second RecordInbound: %v", err)
	}
	if again {
		t.Fatal("redelivered message passed the dedup guard")
	}

	if err := d.MarkProcessed(msgID); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
}

func testOutbox(t *testing.T, o OutboxRepo) {
	t.Helper()
	userID := "user-outbox-" + uuid.NewString()
	dedupeKey := "outbox-" + uuid.NewString()

	id1, err := o.EnqueueOutboxMessage(userID, "reading", `{"text":"hello"}`, dedupeKey)
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage: %v", err)
	}
	id2, err := o.EnqueueOutboxMessage(userID, "reading", `{"text":"hello"}`, dedupeKey)
	if err != nil {
		t.Fatalf("second EnqueueOutboxMessage: %v", err)
	}
	if id1 != id2 {
		t.Errorf("dedupe key did not collapse enqueues: %s vs %s", id1, id2)
	}

	msgs, err := o.ClaimDueOutboxMessages(time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutboxMessages: %v", err)
	}
	var claimed *OutboxMessage
	for i := range msgs {
		if msgs[i].ID == id1 {
			claimed = &msgs[i]
		}
	}
	if claimed == nil {
		t.Fatalf("enqueued message not claimed; got %d messages", len(msgs))
	}
	if claimed.Status != OutboxStatusSending {
		t.Errorf("claimed status = %q, want %q", claimed.Status, OutboxStatusSending)
	}

	// While sending, a second claim must not hand it out again.
	msgs, err = o.ClaimDueOutboxMessages(time.Now(), 10)
	if err != nil {
		t.Fatalf("second ClaimDueOutboxMessages: %v", err)
	}
	for _, m := range msgs {
		if m.ID == id1 {
			t.Fatal("sending message was claimed twice")
		}
	}

	// Failure requeues with a future attempt time.
	if err := o.FailOutboxMessage(id1, "boom", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("FailOutboxMessage: %v", err)
	}
	msgs, err = o.ClaimDueOutboxMessages(time.Now(), 10)
	if err != nil {
		t.Fatalf("claim after fail: %v", err)
	}
	for _, m := range msgs {
		if m.ID == id1 {
			t.Fatal("failed message claimed before its next attempt time")
		}
	}

	msgs, err = o.ClaimDueOutboxMessages(time.Now().Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("claim at future time: %v", err)
	}
	found := false
	for _, m := range msgs {
		if m.ID == id1 {
			found = true
			if m.Attempts != 1 {
				t.Errorf("attempts = %d, want 1", m.Attempts)
			}
		}
	}
	if !found {
		t.Fatal("failed message not claimable after next attempt time")
	}

	if err := o.MarkOutboxMessageSent(id1); err != nil {
		t.Fatalf("MarkOutboxMessageSent: %v", err)
	}

	// A sent message frees its dedupe key.
	id3, err := o.EnqueueOutboxMessage(userID, "reading", `{"text":"again"}`, dedupeKey)
	if err != nil {
		t.Fatalf("enqueue after sent: %v", err)
	}
	if id3 == id1 {
		t.Error("sent message still holds the dedupe key")
	}
}

func testOutboxStaleRecovery(t *testing.T, o OutboxRepo) {
	t.Helper()
	userID := "user-stale-" + uuid.NewString()

	id, err := o.EnqueueOutboxMessage(userID, "reading", `{}`, "")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage: %v", err)
	}
	if _, err := o.ClaimDueOutboxMessages(time.Now(), 100); err != nil {
		t.Fatalf("ClaimDueOutboxMessages: %v", err)
	}

	// Nothing is stale yet.
	n, err := o.RequeueStaleSendingMessages(time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("RequeueStaleSendingMessages: %v", err)
	}
	if n != 0 {
		t.Errorf("requeued %d fresh messages", n)
	}

	// A threshold in the future treats the claim as stale.
	n, err = o.RequeueStaleSendingMessages(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("RequeueStaleSendingMessages: %v", err)
	}
	if n < 1 {
		t.Fatalf("expected at least one requeued message, got %d", n)
	}

	msgs, err := o.ClaimDueOutboxMessages(time.Now(), 100)
	if err != nil {
		t.Fatalf("claim after requeue: %v", err)
	}
	found := false
	for _, m := range msgs {
		if m.ID == id {
			found = true
		}
	}
	if !found {
		t.Error("requeued message not claimable again")
	}
}

func testJobs(t *testing.T, j JobRepo) {
	t.Helper()
	dedupeKey := "job-" + uuid.NewString()
	runAt := time.Now().Add(-time.Minute)

	id1, err := j.EnqueueJob("follow_up", runAt, `{"user_id":"u1"}`, dedupeKey)
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	id2, err := j.EnqueueJob("follow_up", runAt, `{"user_id":"u1"}`, dedupeKey)
	if err != nil {
		t.Fatalf("second EnqueueJob: %v", err)
	}
	if id1 != id2 {
		t.Errorf("dedupe key did not collapse jobs: %s vs %s", id1, id2)
	}

	jobs, err := j.ClaimDueJobs(time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs: %v", err)
	}
	found := false
	for _, job := range jobs {
		if job.ID == id1 {
			found = true
			if job.Status != JobStatusRunning {
				t.Errorf("claimed job status = %q, want %q", job.Status, JobStatusRunning)
			}
		}
	}
	if !found {
		t.Fatalf("due job not claimed; got %d jobs", len(jobs))
	}

	if err := j.CompleteJob(id1); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	got, err := j.GetJob(id1)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got == nil || got.Status != JobStatusDone {
		t.Fatalf("job after complete = %+v, want done", got)
	}
}

func testJobFailureExhaustsAttempts(t *testing.T, j JobRepo) {
	t.Helper()
	id, err := j.EnqueueJob("follow_up", time.Now().Add(-time.Minute), `{}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	for i := 0; i < 3; i++ {
		jobs, err := j.ClaimDueJobs(time.Now(), 100)
		if err != nil {
			t.Fatalf("ClaimDueJobs round %d: %v", i, err)
		}
		claimed := false
		for _, job := range jobs {
			if job.ID == id {
				claimed = true
			}
		}
		if !claimed {
			t.Fatalf("round %d: job not claimable", i)
		}
		if err := j.FailJob(id, "handler error", time.Now().Add(-time.Second)); err != nil {
			t.Fatalf("FailJob round %d: %v", i, err)
		}
	}

	got, err := j.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got == nil {
		t.Fatal("job disappeared")
	}
	if got.Status != JobStatusFailed {
		t.Errorf("status after exhausting attempts = %q, want %q", got.Status, JobStatusFailed)
	}
	if got.Attempt != 3 {
		t.Errorf("attempt = %d, want 3", got.Attempt)
	}
	if got.LastError != "handler error" {
		t.Errorf("lastError = %q", got.LastError)
	}
}

func testJobCancel(t *testing.T, j JobRepo) {
	t.Helper()
	id, err := j.EnqueueJob("follow_up", time.Now().Add(-time.Minute), `{}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := j.CancelJob(id); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	jobs, err := j.ClaimDueJobs(time.Now(), 100)
	if err != nil {
		t.Fatalf("ClaimDueJobs: %v", err)
	}
	for _, job := range jobs {
		if job.ID == id {
			t.Fatal("canceled job was claimed")
		}
	}
}

func runStoreSuite(t *testing.T, s fullStore) {
	t.Helper()
	t.Run("SessionLifecycle", func(t *testing.T) { testSessionLifecycle(t, s) })
	t.Run("PhaseConflict", func(t *testing.T) { testPhaseConflict(t, s) })
	t.Run("UpdateWithResult", func(t *testing.T) { testUpdateWithResult(t, s) })
	t.Run("AddCredits", func(t *testing.T) { testAddCredits(t, s) })
	t.Run("Dedup", func(t *testing.T) { testDedup(t, s) })
	t.Run("Outbox", func(t *testing.T) { testOutbox(t, s) })
	t.Run("OutboxStaleRecovery", func(t *testing.T) { testOutboxStaleRecovery(t, s) })
	t.Run("Jobs", func(t *testing.T) { testJobs(t, s) })
	t.Run("JobFailureExhaustsAttempts", func(t *testing.T) { testJobFailureExhaustsAttempts(t, s) })
	t.Run("JobCancel", func(t *testing.T) { testJobCancel(t, s) })
}
