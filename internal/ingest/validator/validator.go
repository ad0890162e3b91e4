// Package validator turns raw delimited-file field maps into normalized
// transaction records. Validation is a pure function; rejection is a
// first-class outcome, counted by the caller and never fatal to a run.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/marketpulse/transaction-analytics/internal/ingest"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// categorySynonyms maps raw upper-cased category labels to their canonical
// form. Unmapped categories pass through title-cased unchanged.
var categorySynonyms = map[string]string{
	"GROCERY":        "Grocery",
	"GROCERIES":      "Grocery",
	"FOOD":           "Food",
	"ELECTRONICS":    "Electronics",
	"ELECTRONIC":     "Electronics",
	"FASHION":        "Fashion",
	"CLOTHING":       "Fashion",
	"CLOTHES":        "Fashion",
	"TRANSPORT":      "Transport",
	"TRANSPORTATION": "Transport",
	"UTILITIES":      "Utilities",
	"UTILITY":        "Utilities",
	"HEALTHCARE":     "Healthcare",
	"HEALTH":         "Healthcare",
	"EDUCATION":      "Education",
	"EDU":            "Education",
}

// timestampLayouts are tried in order after RFC 3339. Layouts without a zone
// offset are interpreted in the process's local zone.
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"02/01/2006 15:04:05",
	"2006-01-02",
}

var (
	nonAmountChars = regexp.MustCompile(`[^\d.-]`)
	nonPhoneChars  = regexp.MustCompile(`[^\d+]`)
	nonDigitChars  = regexp.MustCompile(`[^\d]`)

	titleCaser = cases.Title(language.English)
)

// Rejection explains why a record failed validation.
type Rejection struct {
	Field  string
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Field, r.Reason)
}

func reject(field, reason string) *Rejection {
	return &Rejection{Field: field, Reason: reason}
}

// Validate applies the record-level data-quality rules in order,
// short-circuiting on the first failure. It is pure: no I/O, no clock reads
// beyond the supplied reference instant.
func Validate(raw map[string]string, now time.Time) (ingest.Transaction, error) {
	transactionID := strings.TrimSpace(raw["TRANSACTION_ID"])
	merchantID := strings.TrimSpace(raw["MERCHANT_ID"])
	zone := strings.ToUpper(strings.TrimSpace(raw["ZONE"]))
	category := strings.TrimSpace(raw["CATEGORY"])
	amountStr := strings.TrimSpace(raw["AMOUNT"])
	timestampStr := strings.TrimSpace(raw["TIMESTAMP"])
	phone := strings.TrimSpace(raw["CUSTOMER_PHONE"])

	if transactionID == "" || merchantID == "" || zone == "" ||
		category == "" || amountStr == "" || timestampStr == "" {
		return ingest.Transaction{}, reject("record", "missing required fields")
	}

	category = normalizeCategory(category)

	amount, err := parseAmount(amountStr)
	if err != nil {
		return ingest.Transaction{}, err
	}

	timestamp, err := parseTimestamp(timestampStr)
	if err != nil {
		return ingest.Transaction{}, err
	}
	if timestamp.After(now) {
		return ingest.Transaction{}, reject("TIMESTAMP", "timestamp is in the future")
	}

	return ingest.Transaction{
		TransactionID: transactionID,
		MerchantID:    merchantID,
		Zone:          zone,
		Category:      category,
		Amount:        amount,
		Timestamp:     timestamp,
		CustomerPhone: normalizePhone(phone),
	}, nil
}

// normalizeCategory title-cases the label and resolves known synonyms.
func normalizeCategory(category string) string {
	titled := titleCaser.String(category)
	if canonical, ok := categorySynonyms[strings.ToUpper(titled)]; ok {
		return canonical
	}
	return titled
}

// parseAmount strips everything but digits, '.' and '-', then parses a
// fixed-point decimal in [0, 1000000].
func parseAmount(raw string) (decimal.Decimal, error) {
	cleaned := nonAmountChars.ReplaceAllString(raw, "")
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, reject("AMOUNT", "not a parsable amount")
	}
	if amount.IsNegative() {
		return decimal.Decimal{}, reject("AMOUNT", "negative amount")
	}
	if amount.GreaterThan(ingest.MaxAmount) {
		return decimal.Decimal{}, reject("AMOUNT", "amount exceeds 1000000")
	}
	return amount, nil
}

// parseTimestamp tries strict RFC 3339 first, then the fallback layouts in
// order. First match wins.
func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "\n", " "))
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, reject("TIMESTAMP", "unrecognized timestamp format")
}

// normalizePhone strips non-digit/plus characters and replaces numbers with
// fewer than 10 or more than 15 digits by the INVALID sentinel. This is a
// soft correction, not a rejection.
func normalizePhone(raw string) string {
	cleaned := nonPhoneChars.ReplaceAllString(raw, "")
	digits := len(nonDigitChars.ReplaceAllString(cleaned, ""))
	if digits < 10 || digits > 15 {
		return ingest.PhoneInvalid
	}
	return cleaned
}

// MerchantUpserter creates a merchant record if one does not exist yet.
type MerchantUpserter interface {
	Ensure(ctx context.Context, merchantID string) error
}

// Normalizer wraps the pure Validate function with the lazy merchant-creation
// side effect, keeping the validation core testable without a store.
type Normalizer struct {
	merchants MerchantUpserter
	now       func() time.Time
	logger    *slog.Logger
}

// NewNormalizer creates a Normalizer. A nil now func defaults to time.Now.
func NewNormalizer(merchants MerchantUpserter, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{
		merchants: merchants,
		now:       now,
		logger:    slog.Default().With("component", "validator"),
	}
}

// Normalize validates the raw record and, on success, ensures its merchant
// exists. A merchant upsert failure is logged but does not reject the
// transaction.
func (n *Normalizer) Normalize(ctx context.Context, raw map[string]string) (ingest.Transaction, error) {
	txn, err := Validate(raw, n.now())
	if err != nil {
		return ingest.Transaction{}, err
	}
	if n.merchants != nil {
		if err := n.merchants.Ensure(ctx, txn.MerchantID); err != nil {
			n.logger.Warn("merchant upsert failed",
				"merchant_id", txn.MerchantID,
				"error", err,
			)
		}
	}
	return txn, nil
}
