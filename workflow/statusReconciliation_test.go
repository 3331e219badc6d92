package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/hoa_backend/models"
)

// countingWriter wraps the real compare-and-set so tests can count writes.
func countingWriter(r *Reconciler, writes *atomic.Int64) statusWriter {
	inner := r.writeStatus
	return func(ctx context.Context, member *models.Member, to models.MemberStatus, now time.Time) (bool, error) {
		writes.Add(1)
		return inner(ctx, member, to, now)
	}
}

// Member 0005 is created January 3 and never pays. It stays New for all of January and
// becomes Inactive on February 1.
func TestReconcile_ScenarioA_GraceWindow(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0005", models.MemberStatusNew, at(2025, 1, 3, 10, 0))
	r := NewReconciler(db, models.GracePolicy{}, 2)
	ctx := context.Background()

	for _, now := range []time.Time{at(2025, 1, 3, 12, 0), at(2025, 1, 15, 0, 5), at(2025, 1, 31, 23, 59)} {
		res, err := r.Reconcile(ctx, now)
		if err != nil {
			t.Fatalf("reconcile %s: %v", now, err)
		}
		if res.Updated != 0 {
			t.Fatalf("no write expected in January, got %d", res.Updated)
		}
		if got := memberStatus(t, db, "0005"); got != models.MemberStatusNew {
			t.Fatalf("expected New on %s, got %s", now, got)
		}
	}

	res, err := r.Reconcile(ctx, at(2025, 2, 1, 0, 5))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Updated != 1 || res.Period != "February 2025" {
		t.Fatalf("expected one update for February 2025, got %+v", res)
	}
	if got := memberStatus(t, db, "0005"); got != models.MemberStatusInactive {
		t.Fatalf("expected Inactive after the grace window, got %s", got)
	}
}

func TestReconcile_PaymentActivates(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0001", models.MemberStatusInactive, at(2024, 5, 1, 9, 0))
	seedMember(t, db, "0002", models.MemberStatusActive, at(2024, 5, 1, 9, 0))
	seedMember(t, db, "0003", models.MemberStatusNew, at(2025, 3, 2, 9, 0))
	seedContribution(t, db, "0001", "30", at(2025, 3, 5, 9, 0))
	seedContribution(t, db, "0003", "30", at(2025, 3, 6, 9, 0))
	// last month's payment does not count for March
	seedContribution(t, db, "0002", "30", at(2025, 2, 27, 9, 0))

	res, err := NewReconciler(db, models.GracePolicy{}, 4).Reconcile(context.Background(), at(2025, 3, 20, 0, 5))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	want := map[string]models.MemberStatus{
		"0001": models.MemberStatusActive,
		"0002": models.MemberStatusInactive,
		"0003": models.MemberStatusActive,
	}
	for accountNo, status := range want {
		if got := memberStatus(t, db, accountNo); got != status {
			t.Fatalf("%s: expected %s, got %s", accountNo, status, got)
		}
	}
	if res.Evaluated != 3 || res.Updated != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestReconcile_AdminOverrideBeatsGrace(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0009", models.MemberStatusActive, at(2025, 3, 2, 9, 0))

	res, err := NewReconciler(db, models.GracePolicy{}, 1).Reconcile(context.Background(), at(2025, 3, 20, 0, 5))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Updated != 0 || memberStatus(t, db, "0009") != models.MemberStatusActive {
		t.Fatalf("confirmed member inside the grace window must stay Active")
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0001", models.MemberStatusActive, at(2024, 5, 1, 9, 0))
	seedMember(t, db, "0002", models.MemberStatusInactive, at(2024, 5, 1, 9, 0))
	seedMember(t, db, "0003", models.MemberStatusNew, at(2025, 3, 2, 9, 0))
	seedMember(t, db, "0004", models.MemberStatusPending, at(2024, 5, 1, 9, 0))
	seedContribution(t, db, "0002", "30", at(2025, 3, 5, 9, 0))

	r := NewReconciler(db, models.GracePolicy{}, 3)
	var writes atomic.Int64
	r.writeStatus = countingWriter(r, &writes)
	now := at(2025, 3, 20, 0, 5)

	first, err := r.Reconcile(context.Background(), now)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Updated == 0 {
		t.Fatalf("first pass should change something")
	}
	writes.Store(0)

	second, err := r.Reconcile(context.Background(), now)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Updated != 0 || writes.Load() != 0 {
		t.Fatalf("second pass must not write, got updated=%d writes=%d", second.Updated, writes.Load())
	}
	if second.Unchanged != second.Evaluated {
		t.Fatalf("every member should be unchanged: %+v", second)
	}
}

func TestReconcile_SkipsDeletedMembers(t *testing.T) {
	db := newTestDB(t)
	deleted := seedMember(t, db, "0001", models.MemberStatusDeleted, at(2024, 5, 1, 9, 0))
	seedContribution(t, db, "0001", "30", at(2025, 3, 5, 9, 0))

	r := NewReconciler(db, models.GracePolicy{}, 1)
	var writes atomic.Int64
	r.writeStatus = countingWriter(r, &writes)

	res, err := r.Reconcile(context.Background(), at(2025, 3, 20, 0, 5))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Evaluated != 0 || writes.Load() != 0 {
		t.Fatalf("deleted members must not be read or written: %+v", res)
	}
	if got := memberStatus(t, db, deleted.AccountNo); got != models.MemberStatusDeleted {
		t.Fatalf("expected Deleted, got %s", got)
	}
	if changed, err := r.ReconcileMember(context.Background(), "0001", at(2025, 3, 20, 0, 5)); err != nil || changed {
		t.Fatalf("single-member reconcile must ignore deleted members: changed=%v err=%v", changed, err)
	}
}

func TestReconcile_IsolatesMemberFailures(t *testing.T) {
	db := newTestDB(t)
	for _, no := range []string{"0001", "0002", "0003"} {
		seedMember(t, db, no, models.MemberStatusActive, at(2024, 5, 1, 9, 0))
	}

	r := NewReconciler(db, models.GracePolicy{}, 2)
	inner := r.writeStatus
	r.writeStatus = func(ctx context.Context, member *models.Member, to models.MemberStatus, now time.Time) (bool, error) {
		if member.AccountNo == "0002" {
			return false, errors.New("write timeout")
		}
		return inner(ctx, member, to, now)
	}

	res, err := r.Reconcile(context.Background(), at(2025, 3, 20, 0, 5))
	if err != nil {
		t.Fatalf("a member failure must not fail the batch: %v", err)
	}
	if res.Updated != 2 || res.Failed != 1 || len(res.Errors) != 1 {
		t.Fatalf("expected 2 updated and 1 failed, got %+v", res)
	}
	if memberStatus(t, db, "0001") != models.MemberStatusInactive || memberStatus(t, db, "0003") != models.MemberStatusInactive {
		t.Fatalf("healthy members must be reconciled")
	}
	if memberStatus(t, db, "0002") != models.MemberStatusActive {
		t.Fatalf("failed member must be left as it was")
	}
}

func TestReconcile_LostRaceIsSkipped(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0001", models.MemberStatusActive, at(2024, 5, 1, 9, 0))

	r := NewReconciler(db, models.GracePolicy{}, 1)
	inner := r.writeStatus
	r.writeStatus = func(ctx context.Context, member *models.Member, to models.MemberStatus, now time.Time) (bool, error) {
		// an official changes the status between the read and the write
		if _, err := models.CompareAndSetStatus(ctx, db, member.ID, member.Status, models.MemberStatusPending, now, "treasurer"); err != nil {
			return false, err
		}
		return inner(ctx, member, to, now)
	}

	res, err := r.Reconcile(context.Background(), at(2025, 3, 20, 0, 5))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Skipped != 1 || res.Updated != 0 {
		t.Fatalf("expected the write to be skipped, got %+v", res)
	}
	if memberStatus(t, db, "0001") != models.MemberStatusPending {
		t.Fatalf("the official's decision must survive")
	}
}

func TestReconcileMember_AfterPayment(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0001", models.MemberStatusInactive, at(2024, 5, 1, 9, 0))
	seedContribution(t, db, "0001", "30", at(2025, 3, 5, 9, 0))

	changed, err := NewReconciler(db, models.GracePolicy{}, 1).ReconcileMember(context.Background(), "0001", at(2025, 3, 5, 10, 0))
	if err != nil || !changed {
		t.Fatalf("expected a status change, changed=%v err=%v", changed, err)
	}
	if memberStatus(t, db, "0001") != models.MemberStatusActive {
		t.Fatalf("expected Active")
	}
}

func TestReconcileScheduler_NextRunAt(t *testing.T) {
	s := NewReconcileScheduler(nil, nil)
	cases := []struct {
		now, want time.Time
	}{
		{at(2025, 1, 3, 10, 0), at(2025, 1, 4, 0, 5)},
		{at(2025, 1, 3, 0, 1), at(2025, 1, 3, 0, 5)},
		{at(2025, 1, 3, 0, 5), at(2025, 1, 4, 0, 5)},
		{at(2025, 1, 31, 23, 0), at(2025, 2, 1, 0, 5)},
		{at(2024, 12, 31, 12, 0), at(2025, 1, 1, 0, 5)},
	}
	for _, tc := range cases {
		if got := s.NextRunAt(tc.now); !got.Equal(tc.want) {
			t.Fatalf("NextRunAt(%s) = %s, want %s", tc.now, got, tc.want)
		}
	}
}

func TestReconcileScheduler_RunOnceWithoutRedis(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0001", models.MemberStatusActive, at(2024, 5, 1, 9, 0))

	s := NewReconcileScheduler(NewReconciler(db, models.GracePolicy{}, 1), nil)
	s.now = func() time.Time { return at(2025, 3, 20, 0, 5) }
	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res == nil || res.Updated != 1 {
		t.Fatalf("expected one update, got %+v", res)
	}
}

type fakeRunLock struct {
	refreshes atomic.Int64
	fail      bool
}

func (l *fakeRunLock) Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error {
	l.refreshes.Add(1)
	if l.fail {
		return redislock.ErrNotObtained
	}
	return nil
}

func TestReconcileScheduler_KeepLockAliveRefreshesUntilStopped(t *testing.T) {
	s := NewReconcileScheduler(nil, nil)
	s.lockTTL = 20 * time.Millisecond
	lock := &fakeRunLock{}
	var lost atomic.Bool

	stop := s.keepLockAlive(context.Background(), lock, func() { lost.Store(true) })
	time.Sleep(75 * time.Millisecond)
	stop()
	stop()

	got := lock.refreshes.Load()
	if got < 2 {
		t.Fatalf("expected at least 2 refreshes during the pass, got %d", got)
	}
	time.Sleep(40 * time.Millisecond)
	if after := lock.refreshes.Load(); after != got {
		t.Fatalf("refreshed after stop: %d -> %d", got, after)
	}
	if lost.Load() {
		t.Fatal("lock reported lost while refreshes succeeded")
	}
}

func TestReconcileScheduler_LostLockCancelsPass(t *testing.T) {
	s := NewReconcileScheduler(nil, nil)
	s.lockTTL = 20 * time.Millisecond
	lock := &fakeRunLock{fail: true}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := s.keepLockAlive(ctx, lock, cancel)
	defer stop()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("pass context was not cancelled after the lock was lost")
	}
	if lock.refreshes.Load() != 1 {
		t.Fatalf("expected refreshing to stop after the first failure, got %d", lock.refreshes.Load())
	}
}
