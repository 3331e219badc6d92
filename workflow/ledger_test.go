package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mmdatafocus/hoa_backend/models"
	"github.com/mmdatafocus/hoa_backend/utils"
	"github.com/shopspring/decimal"
)

// Member 0007 is Active and pays 30 for March 2025; a second payment for the same
// period is rejected and the ledger keeps the first one.
func TestLedger_ScenarioB_DuplicatePeriod(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0007", models.MemberStatusActive, at(2024, 6, 1, 9, 0))
	ledger, pub := newTestLedger(db)
	ctx := context.Background()

	res, err := ledger.Submit(ctx, resident, payment("0007", "30", "2025-03-10"))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if res.Record.Period != "March 2025" {
		t.Fatalf("expected period March 2025, got %q", res.Record.Period)
	}

	_, err = ledger.Submit(ctx, resident, payment("0007", "45", "2025-03-22"))
	var dup *models.DuplicatePeriodError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicatePeriodError, got %v", err)
	}
	if dup.AccountNo != "0007" || dup.Period != "March 2025" {
		t.Fatalf("unexpected duplicate error fields: %+v", dup)
	}

	records, err := ledger.ListByPeriod(ctx, "March 2025")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(records))
	}
	if !records[0].Amount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected amount 30, got %s", records[0].Amount)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].AccountNo != "0007" {
		t.Fatalf("expected one reconcile request for 0007, got %+v", pub.msgs)
	}
}

func TestLedger_ConcurrentSubmitsFromDifferentCallers(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0007", models.MemberStatusActive, at(2024, 6, 1, 9, 0))
	ledger, _ := newTestLedger(db)

	const callers = 8
	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		mu        sync.Mutex
		successes int
		dups      int
		others    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := Actor{Username: "officer-" + string(rune('a'+i)), Role: utils.RoleMember}
			<-start
			_, err := ledger.Submit(context.Background(), actor, payment("0007", "30", "2025-03-10"))
			mu.Lock()
			defer mu.Unlock()
			var dup *models.DuplicatePeriodError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &dup):
				dups++
			default:
				others = append(others, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if successes != 1 || dups != callers-1 {
		t.Fatalf("expected 1 success and %d duplicates, got %d and %d", callers-1, successes, dups)
	}
	if n := countRecords(t, db, "0007", "March 2025"); n != 1 {
		t.Fatalf("expected one stored record, got %d", n)
	}
}

func TestLedger_TwoConcurrentSubmits(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0003", models.MemberStatusInactive, at(2024, 6, 1, 9, 0))
	ledger, _ := newTestLedger(db)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, actor := range []Actor{official, resident} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = ledger.Submit(context.Background(), actor, payment("0003", "30", "2025-04-02"))
		}()
	}
	wg.Wait()

	var dup *models.DuplicatePeriodError
	okCount, dupCount := 0, 0
	for _, err := range errs {
		if err == nil {
			okCount++
		} else if errors.As(err, &dup) {
			dupCount++
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if okCount != 1 || dupCount != 1 {
		t.Fatalf("expected one success and one DuplicatePeriodError, got %d/%d", okCount, dupCount)
	}
}

func TestLedger_EligibilityCheckedFirst(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0005", models.MemberStatusNew, at(2025, 1, 3, 9, 0))
	seedMember(t, db, "0006", models.MemberStatusPending, at(2025, 1, 3, 9, 0))
	seedMember(t, db, "0008", models.MemberStatusDeleted, at(2024, 1, 3, 9, 0))
	ledger, _ := newTestLedger(db)
	ctx := context.Background()

	for _, accountNo := range []string{"0005", "0006", "0008"} {
		// an invalid amount must not mask the eligibility failure
		_, err := ledger.Submit(ctx, resident, payment(accountNo, "0", "2025-01-10"))
		var ne *models.MemberNotEligibleError
		if !errors.As(err, &ne) {
			t.Fatalf("%s: expected MemberNotEligibleError, got %v", accountNo, err)
		}
	}

	_, err := ledger.Submit(ctx, resident, payment("9999", "30", "2025-01-10"))
	var nf *models.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestLedger_EligibilityReadAtSubmitTime(t *testing.T) {
	db := newTestDB(t)
	member := seedMember(t, db, "0010", models.MemberStatusActive, at(2024, 6, 1, 9, 0))
	ledger, _ := newTestLedger(db)
	ctx := context.Background()

	// status changes after the caller looked the member up
	if ok, err := models.CompareAndSetStatus(ctx, db, member.ID, models.MemberStatusActive, models.MemberStatusPending, at(2025, 3, 1, 0, 0), "treasurer"); err != nil || !ok {
		t.Fatalf("status change: ok=%v err=%v", ok, err)
	}
	_, err := ledger.Submit(ctx, resident, payment("0010", "30", "2025-03-10"))
	var ne *models.MemberNotEligibleError
	if !errors.As(err, &ne) || ne.Status != models.MemberStatusPending {
		t.Fatalf("expected MemberNotEligibleError(Pending), got %v", err)
	}
}

func TestLedger_ValidationErrors(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0002", models.MemberStatusActive, at(2024, 6, 1, 9, 0))
	ledger, _ := newTestLedger(db)

	cases := map[string]models.NewContribution{
		"amount":           payment("0002", "-5", "2025-03-10"),
		"recipient":        {MemberAccountNo: "0002", Amount: amount("30"), PaymentMethod: models.PaymentMethodCash, TransactionDate: "2025-03-10"},
		"transaction_date": payment("0002", "30", "yesterday"),
		"payment_method":   {MemberAccountNo: "0002", Amount: amount("30"), PaymentMethod: "Cheque", Recipient: "Treasurer", TransactionDate: "2025-03-10"},
	}
	for field, input := range cases {
		_, err := ledger.Submit(context.Background(), resident, input)
		var ve *models.ValidationError
		if !errors.As(err, &ve) || ve.Field != field {
			t.Fatalf("%s: expected ValidationError on %s, got %v", field, field, err)
		}
	}
	if n := countRecords(t, db, "0002", "March 2025"); n != 0 {
		t.Fatalf("no record may be written on validation failure, got %d", n)
	}
}

func TestLedger_AmountDefaultsToDues(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0004", models.MemberStatusActive, at(2024, 6, 1, 9, 0))
	ledger, _ := newTestLedger(db)
	ctx := context.Background()

	if _, err := ledger.dues.Set(ctx, decimal.NewFromInt(50), official); err != nil {
		t.Fatalf("set dues: %v", err)
	}
	input := payment("0004", "1", "2025-05-05")
	input.Amount = nil
	res, err := ledger.Submit(ctx, resident, input)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Record.Amount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected default amount 50, got %s", res.Record.Amount)
	}
}

func TestLedger_OptionalProofFailureIsAWarning(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0011", models.MemberStatusActive, at(2024, 6, 1, 9, 0))
	blobs := newFakeBlobStore()
	blobs.failNext = true
	ledger, _ := newTestLedger(db, WithBlobStore(blobs))

	input := payment("0011", "30", "2025-03-10")
	input.Proof = &models.ProofUpload{FileName: "receipt.png", Data: pngBytes(t)}
	res, err := ledger.Submit(context.Background(), resident, input)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Fatalf("expected a warning about the failed upload")
	}
	if res.Record.ProofRef != "" {
		t.Fatalf("proof ref must be empty, got %q", res.Record.ProofRef)
	}
	if n := countRecords(t, db, "0011", "March 2025"); n != 1 {
		t.Fatalf("record must be saved, got %d", n)
	}
}

func TestLedger_RequiredProofFailureBlocksWrite(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0012", models.MemberStatusActive, at(2024, 6, 1, 9, 0))
	blobs := newFakeBlobStore()
	blobs.failNext = true
	ledger, _ := newTestLedger(db, WithBlobStore(blobs))

	input := payment("0012", "30", "2025-03-10")
	input.Proof = &models.ProofUpload{Data: pngBytes(t), Required: true}
	_, err := ledger.Submit(context.Background(), resident, input)
	var se *models.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if n := countRecords(t, db, "0012", "March 2025"); n != 0 {
		t.Fatalf("no record may be written, got %d", n)
	}
}

func TestLedger_ProofStoredWithThumbnail(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0013", models.MemberStatusActive, at(2024, 6, 1, 9, 0))
	blobs := newFakeBlobStore()
	ledger, _ := newTestLedger(db, WithBlobStore(blobs))

	input := payment("0013", "30", "2025-03-10")
	input.Proof = &models.ProofUpload{Data: pngBytes(t)}
	res, err := ledger.Submit(context.Background(), resident, input)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Record.ProofRef == "" || res.Record.ProofThumbnailRef == "" {
		t.Fatalf("expected proof and thumbnail refs, got %+v", res.Record)
	}
	if blobs.count() != 2 {
		t.Fatalf("expected 2 stored objects, got %d", blobs.count())
	}
}

// A concurrent writer that lands between the pre-check and the insert loses nothing but
// the uploaded blobs, which are removed again.
func TestLedger_FailedWriteRemovesUploadedProof(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0014", models.MemberStatusActive, at(2024, 6, 1, 9, 0))
	blobs := newFakeBlobStore()
	blobs.onUpload = func() {
		seedContribution(t, db, "0014", "30", at(2025, 3, 2, 9, 0))
	}
	ledger, _ := newTestLedger(db, WithBlobStore(blobs))

	input := payment("0014", "30", "2025-03-10")
	input.Proof = &models.ProofUpload{Data: pngBytes(t)}
	_, err := ledger.Submit(context.Background(), official, input)
	var dup *models.DuplicatePeriodError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicatePeriodError, got %v", err)
	}
	if blobs.count() != 0 {
		t.Fatalf("uploaded blobs must be deleted, %d left", blobs.count())
	}
	if n := countRecords(t, db, "0014", "March 2025"); n != 1 {
		t.Fatalf("expected the concurrent record only, got %d", n)
	}
}

func TestLedger_Update(t *testing.T) {
	db := newTestDB(t)
	seedMember(t, db, "0015", models.MemberStatusActive, at(2024, 6, 1, 9, 0))
	blobs := newFakeBlobStore()
	ledger, _ := newTestLedger(db, WithBlobStore(blobs))
	ctx := context.Background()

	input := payment("0015", "30", "2025-03-10")
	input.Proof = &models.ProofUpload{Data: pngBytes(t)}
	res, err := ledger.Submit(ctx, resident, input)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	oldRef := res.Record.ProofRef

	if _, err := ledger.Update(ctx, resident, res.Record.ID, models.ContributionUpdate{Amount: amount("35")}); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("member must not edit records, got %v", err)
	}

	method := models.PaymentMethodCash
	updated, err := ledger.Update(ctx, official, res.Record.ID, models.ContributionUpdate{
		Amount:        amount("35"),
		PaymentMethod: &method,
		Proof:         &models.ProofUpload{Data: pngBytes(t)},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Amount.Equal(decimal.NewFromInt(35)) || updated.PaymentMethod != models.PaymentMethodCash {
		t.Fatalf("fields not updated: %+v", updated)
	}
	if updated.Period != "March 2025" || updated.MemberAccountNo != "0015" {
		t.Fatalf("period and member must not change: %+v", updated)
	}
	if updated.ProofRef == oldRef {
		t.Fatalf("proof must be replaced")
	}
	if _, ok := blobs.objects[oldRef]; ok {
		t.Fatalf("old proof must be deleted")
	}

	cleared, err := ledger.DeleteProof(ctx, official, res.Record.ID)
	if err != nil {
		t.Fatalf("delete proof: %v", err)
	}
	if cleared.ProofRef != "" || cleared.ProofThumbnailRef != "" || blobs.count() != 0 {
		t.Fatalf("proof must be removed: %+v, %d objects", cleared, blobs.count())
	}

	if _, err := ledger.Update(ctx, official, 9999, models.ContributionUpdate{Amount: amount("1")}); !models.IsNotFoundErr(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
