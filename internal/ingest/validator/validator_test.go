package validator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marketpulse/transaction-analytics/internal/ingest"
	"github.com/shopspring/decimal"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parsing decimal %q: %v", s, err)
	}
	return d
}

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func validRecord() map[string]string {
	return map[string]string{
		"TRANSACTION_ID": "TXN-001",
		"MERCHANT_ID":    "M-001",
		"ZONE":           "north",
		"CATEGORY":       "grocery",
		"AMOUNT":         "150.50",
		"TIMESTAMP":      "2026-01-15T10:30:00Z",
		"CUSTOMER_PHONE": "+14155550123",
	}
}

func TestValidateAcceptsWellFormedRecord(t *testing.T) {
	txn, err := Validate(validRecord(), testNow)
	if err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
	if txn.TransactionID != "TXN-001" {
		t.Errorf("TransactionID = %q, want TXN-001", txn.TransactionID)
	}
	if txn.Zone != "NORTH" {
		t.Errorf("Zone = %q, want NORTH (upper-cased)", txn.Zone)
	}
	if txn.Category != "Grocery" {
		t.Errorf("Category = %q, want Grocery", txn.Category)
	}
	if !txn.Amount.Equal(mustDecimal(t, "150.50")) {
		t.Errorf("Amount = %s, want 150.50", txn.Amount)
	}
	if txn.CustomerPhone != "+14155550123" {
		t.Errorf("CustomerPhone = %q, want +14155550123", txn.CustomerPhone)
	}
}

func TestValidateMissingRequiredFields(t *testing.T) {
	for _, field := range []string{"TRANSACTION_ID", "MERCHANT_ID", "ZONE", "CATEGORY", "AMOUNT", "TIMESTAMP"} {
		t.Run(field, func(t *testing.T) {
			rec := validRecord()
			rec[field] = "  "
			if _, err := Validate(rec, testNow); err == nil {
				t.Fatalf("Validate() with blank %s: want rejection, got nil", field)
			}
		})
	}
}

func TestValidatePhoneIsNotRequired(t *testing.T) {
	rec := validRecord()
	rec["CUSTOMER_PHONE"] = ""
	txn, err := Validate(rec, testNow)
	if err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
	if txn.CustomerPhone != ingest.PhoneInvalid {
		t.Errorf("CustomerPhone = %q, want %q", txn.CustomerPhone, ingest.PhoneInvalid)
	}
}

func TestCategorySynonyms(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"GROCERIES", "Grocery"},
		{"grocery", "Grocery"},
		{"CLOTHING", "Fashion"},
		{"clothes", "Fashion"},
		{"transportation", "Transport"},
		{"utility", "Utilities"},
		{"HEALTH", "Healthcare"},
		{"edu", "Education"},
		{"electronic", "Electronics"},
		{"food", "Food"},
		{"pet supplies", "Pet Supplies"}, // unmapped passes through title-cased
	}
	for _, tc := range cases {
		rec := validRecord()
		rec["CATEGORY"] = tc.raw
		txn, err := Validate(rec, testNow)
		if err != nil {
			t.Fatalf("Validate() category %q: error = %v", tc.raw, err)
		}
		if txn.Category != tc.want {
			t.Errorf("category %q normalized to %q, want %q", tc.raw, txn.Category, tc.want)
		}
	}
}

func TestAmountParsing(t *testing.T) {
	accepts := []struct {
		raw  string
		want string
	}{
		{"1000", "1000"},
		{"$1,234.56", "1234.56"},
		{"  99.99 INR ", "99.99"},
		{"0", "0"},
		{"1000000", "1000000"},
	}
	for _, tc := range accepts {
		rec := validRecord()
		rec["AMOUNT"] = tc.raw
		txn, err := Validate(rec, testNow)
		if err != nil {
			t.Fatalf("Validate() amount %q: error = %v", tc.raw, err)
		}
		if !txn.Amount.Equal(mustDecimal(t, tc.want)) {
			t.Errorf("amount %q parsed to %s, want %s", tc.raw, txn.Amount, tc.want)
		}
	}

	rejects := []string{"abc", "-50", "1000000.01", "..", "--"}
	for _, raw := range rejects {
		rec := validRecord()
		rec["AMOUNT"] = raw
		if _, err := Validate(rec, testNow); err == nil {
			t.Errorf("Validate() amount %q: want rejection, got nil", raw)
		}
	}
}

func TestTimestampFormats(t *testing.T) {
	accepts := []string{
		"2026-01-15T10:30:00Z",
		"2026-01-15T10:30:00",
		"2026-01-15 10:30:00",
		"2026-01-15 10:30",
		"2026/01/15 10:30:00",
		"15/01/2026 10:30:00",
		"2026-01-15",
	}
	for _, raw := range accepts {
		rec := validRecord()
		rec["TIMESTAMP"] = raw
		if _, err := Validate(rec, testNow); err != nil {
			t.Errorf("Validate() timestamp %q: error = %v, want nil", raw, err)
		}
	}

	rec := validRecord()
	rec["TIMESTAMP"] = "January 15th 2026"
	if _, err := Validate(rec, testNow); err == nil {
		t.Error("Validate() with unparsable timestamp: want rejection, got nil")
	}
}

func TestFutureTimestampRejected(t *testing.T) {
	rec := validRecord()
	rec["TIMESTAMP"] = testNow.Add(time.Hour).Format(time.RFC3339)
	if _, err := Validate(rec, testNow); err == nil {
		t.Fatal("Validate() with future timestamp: want rejection, got nil")
	}

	var rej *Rejection
	_, err := Validate(rec, testNow)
	if !errors.As(err, &rej) {
		t.Fatalf("error type = %T, want *Rejection", err)
	}
	if rej.Field != "TIMESTAMP" {
		t.Errorf("Rejection.Field = %q, want TIMESTAMP", rej.Field)
	}
}

func TestPhoneNormalization(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"+1 (415) 555-0123", "+14155550123"},
		{"4155550123", "4155550123"},
		{"555-0123", ingest.PhoneInvalid},          // 7 digits
		{"12345678901234567", ingest.PhoneInvalid}, // 17 digits
		{"", ingest.PhoneInvalid},
		{"not a phone", ingest.PhoneInvalid},
	}
	for _, tc := range cases {
		rec := validRecord()
		rec["CUSTOMER_PHONE"] = tc.raw
		txn, err := Validate(rec, testNow)
		if err != nil {
			t.Fatalf("Validate() phone %q: error = %v", tc.raw, err)
		}
		if txn.CustomerPhone != tc.want {
			t.Errorf("phone %q normalized to %q, want %q", tc.raw, txn.CustomerPhone, tc.want)
		}
	}
}

type fakeMerchants struct {
	ensured []string
	err     error
}

func (f *fakeMerchants) Ensure(_ context.Context, merchantID string) error {
	f.ensured = append(f.ensured, merchantID)
	return f.err
}

func TestNormalizerEnsuresMerchant(t *testing.T) {
	merchants := &fakeMerchants{}
	n := NewNormalizer(merchants, func() time.Time { return testNow })

	if _, err := n.Normalize(context.Background(), validRecord()); err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(merchants.ensured) != 1 || merchants.ensured[0] != "M-001" {
		t.Errorf("ensured merchants = %v, want [M-001]", merchants.ensured)
	}
}

func TestNormalizerMerchantFailureIsNotFatal(t *testing.T) {
	merchants := &fakeMerchants{err: errors.New("connection refused")}
	n := NewNormalizer(merchants, func() time.Time { return testNow })

	txn, err := n.Normalize(context.Background(), validRecord())
	if err != nil {
		t.Fatalf("Normalize() error = %v, want nil despite merchant failure", err)
	}
	if txn.TransactionID != "TXN-001" {
		t.Errorf("TransactionID = %q, want TXN-001", txn.TransactionID)
	}
}

func TestNormalizerRejectsInvalidRecord(t *testing.T) {
	merchants := &fakeMerchants{}
	n := NewNormalizer(merchants, func() time.Time { return testNow })

	rec := validRecord()
	rec["AMOUNT"] = "-1"
	if _, err := n.Normalize(context.Background(), rec); err == nil {
		t.Fatal("Normalize() with negative amount: want rejection, got nil")
	}
	if len(merchants.ensured) != 0 {
		t.Errorf("merchant ensured for rejected record: %v", merchants.ensured)
	}
}
