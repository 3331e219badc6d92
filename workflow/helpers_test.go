package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/hoa_backend/config"
	"github.com/mmdatafocus/hoa_backend/models"
	"github.com/mmdatafocus/hoa_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	official = Actor{Username: "treasurer", Role: utils.RoleOfficial}
	resident = Actor{Username: "resident", Role: utils.RoleMember}
)

// newTestDB opens a per-test in-memory database with the real schema, unique indexes included.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), config.InitGormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// one connection serialises writers the way a single primary would and avoids SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, models.PeriodLocation())
}

func seedMember(t *testing.T, db *gorm.DB, accountNo string, status models.MemberStatus, createdAt time.Time) *models.Member {
	t.Helper()
	seq, err := strconv.Atoi(accountNo)
	if err != nil {
		t.Fatalf("account no %q: %v", accountNo, err)
	}
	member := &models.Member{
		AccountNo:  accountNo,
		SequenceNo: seq,
		Name:       "Member " + accountNo,
		Status:     status,
		CreatedAt:  createdAt.UTC(),
	}
	if err := db.Create(member).Error; err != nil {
		t.Fatalf("seed member %s: %v", accountNo, err)
	}
	return member
}

func seedContribution(t *testing.T, db *gorm.DB, accountNo string, amount string, txDate time.Time) *models.ContributionRecord {
	t.Helper()
	record := &models.ContributionRecord{
		MemberAccountNo: accountNo,
		Period:          models.PeriodLabel(txDate),
		Amount:          decimal.RequireFromString(amount),
		PaymentMethod:   models.PaymentMethodCash,
		Recipient:       "Treasurer",
		TransactionDate: txDate.UTC(),
	}
	if err := db.Create(record).Error; err != nil {
		t.Fatalf("seed contribution %s: %v", accountNo, err)
	}
	return record
}

func memberStatus(t *testing.T, db *gorm.DB, accountNo string) models.MemberStatus {
	t.Helper()
	member, err := models.FindMemberByAccountNo(context.Background(), db, accountNo)
	if err != nil {
		t.Fatalf("find member %s: %v", accountNo, err)
	}
	return member.Status
}

func countRecords(t *testing.T, db *gorm.DB, accountNo, period string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.ContributionRecord{}).
		Where("member_account_no = ? AND period = ?", accountNo, period).
		Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func payment(accountNo, amt, date string) models.NewContribution {
	return models.NewContribution{
		MemberAccountNo: accountNo,
		Amount:          amount(amt),
		PaymentMethod:   models.PaymentMethodGCash,
		Recipient:       "Treasurer",
		TransactionDate: date,
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// fakeBlobStore keeps objects in memory and can be told to fail or to run a hook on upload.
type fakeBlobStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	failNext  bool
	onUpload  func()
	uploadErr error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (s *fakeBlobStore) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	hook := s.onUpload
	s.onUpload = nil
	if s.failNext {
		s.mu.Unlock()
		if s.uploadErr != nil {
			return "", s.uploadErr
		}
		return "", errors.New("bucket unavailable")
	}
	ref := "https://storage.test/" + key
	s.objects[ref] = data
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ref, nil
}

func (s *fakeBlobStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, ref)
	s.deleted = append(s.deleted, ref)
	return nil
}

func (s *fakeBlobStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type capturedPublisher struct {
	mu   sync.Mutex
	msgs []config.ReconcileRequest
}

func (p *capturedPublisher) publish(_ context.Context, msg config.ReconcileRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return "msg-" + strconv.Itoa(len(p.msgs)), nil
}

func newTestLedger(db *gorm.DB, opts ...LedgerOption) (*Ledger, *capturedPublisher) {
	pub := &capturedPublisher{}
	base := []LedgerOption{WithReconcilePublisher(pub.publish), WithProofRequired(false)}
	return NewLedger(db, NewDuesRegistry(db, nil), append(base, opts...)...), pub
}
