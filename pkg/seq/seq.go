// Package seq produces the human-readable sequence numbers printed on
// work orders and sale receipts.
//
// A canonical number is PREFIX-PERIOD-NNNN: "WO-20250116-0001" for the
// first work order of January 16th, "POS-202501-0042" for the 42nd sale
// of January. The counter behind the number lives server side and is
// incremented atomically, so numbers issued to concurrent callers are
// always distinct. When the server cannot be reached the allocator
// degrades to a locally generated fallback that is unique but
// deliberately not canonical, so it can be recognized and renumbered
// later.
package seq

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SequenceType selects the counter family and the printed prefix.
type SequenceType string

const (
	SequenceOrder SequenceType = "order"
	SequenceSale  SequenceType = "sale"
)

// Prefix returns the printed prefix for the sequence type.
func (s SequenceType) Prefix() string {
	switch s {
	case SequenceOrder:
		return "WO"
	case SequenceSale:
		return "POS"
	}
	return ""
}

// Valid reports whether the sequence type is one of the known families.
func (s SequenceType) Valid() bool { return s.Prefix() != "" }

// PeriodType controls how often the counter resets.
type PeriodType string

const (
	PeriodDaily   PeriodType = "daily"
	PeriodMonthly PeriodType = "monthly"
	PeriodYearly  PeriodType = "yearly"
)

// PeriodKey formats the counter bucket for a point in time: YYYYMMDD for
// daily, YYYYMM for monthly, YYYY for yearly. Distinct periods map to
// distinct keys, so a new period starts a fresh counter without anyone
// resetting anything.
func PeriodKey(pt PeriodType, at time.Time) (string, error) {
	switch pt {
	case PeriodDaily:
		return at.Format("20060102"), nil
	case PeriodMonthly:
		return at.Format("200601"), nil
	case PeriodYearly:
		return at.Format("2006"), nil
	}
	return "", fmt.Errorf("unknown period type %q", pt)
}

// Format renders a canonical sequence number from its parts.
func Format(st SequenceType, periodKey string, count int64) string {
	return fmt.Sprintf("%s-%s-%04d", st.Prefix(), periodKey, count)
}

// Number is a parsed canonical sequence number.
type Number struct {
	SequenceType SequenceType
	PeriodType   PeriodType
	PeriodKey    string
	Count        int64
}

var canonicalRe = regexp.MustCompile(`^(WO|POS)-(\d{4}|\d{6}|\d{8})-(\d{4,})$`)

// Parse decodes a canonical sequence number. Fallback numbers and any
// other non-canonical strings fail with an error.
func Parse(s string) (Number, error) {
	m := canonicalRe.FindStringSubmatch(s)
	if m == nil {
		return Number{}, fmt.Errorf("not a canonical sequence number: %q", s)
	}
	var n Number
	switch m[1] {
	case "WO":
		n.SequenceType = SequenceOrder
	case "POS":
		n.SequenceType = SequenceSale
	}
	n.PeriodKey = m[2]
	switch len(m[2]) {
	case 4:
		n.PeriodType = PeriodYearly
	case 6:
		n.PeriodType = PeriodMonthly
	case 8:
		n.PeriodType = PeriodDaily
	}
	count, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return Number{}, fmt.Errorf("bad count in %q: %w", s, err)
	}
	n.Count = count
	return n, nil
}

// IsCanonical reports whether s is a well-formed server-issued number.
// Fallback numbers return false, which is how later reconciliation finds
// them.
func IsCanonical(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Invoker is the transport the allocator calls the counter service
// through. *neonfn.Client satisfies it.
type Invoker interface {
	InvokeFunction(ctx context.Context, name string, payload map[string]any) (json.RawMessage, error)
}

// Allocator issues sequence numbers through the serverless counter
// function, with local fallback when the call fails.
type Allocator struct {
	invoker Invoker
	now     func() time.Time
	log     zerolog.Logger
}

// NewAllocator creates an allocator backed by the given function
// transport. A nil invoker is accepted and treated as a permanently
// unreachable counter service: every allocation takes the fallback path,
// so deployments without the function backend still issue identifiers.
func NewAllocator(invoker Invoker, log zerolog.Logger) *Allocator {
	return &Allocator{invoker: invoker, now: time.Now, log: log}
}

// SetClock overrides the time source. Test hook.
func (a *Allocator) SetClock(now func() time.Time) { a.now = now }

// Allocate returns the next sequence number for the type and period. On
// any transport or server failure it logs a warning and returns a
// fallback number instead of an error: the caller is in the middle of
// creating a work order or sale and a missing pretty number must not
// block that.
func (a *Allocator) Allocate(ctx context.Context, st SequenceType, pt PeriodType) string {
	number, err := a.allocate(ctx, st, pt)
	if err != nil {
		fallback := a.Fallback(st, pt)
		a.log.Warn().
			Err(err).
			Str("sequence_type", string(st)).
			Str("fallback", fallback).
			Msg("sequence allocation failed, using local fallback")
		return fallback
	}
	return number
}

func (a *Allocator) allocate(ctx context.Context, st SequenceType, pt PeriodType) (string, error) {
	if !st.Valid() {
		return "", fmt.Errorf("unknown sequence type %q", st)
	}
	if a.invoker == nil {
		return "", fmt.Errorf("counter service is not configured")
	}
	data, err := a.invoker.InvokeFunction(ctx, "generateSequenceNumber", map[string]any{
		"sequence_type": string(st),
		"period_type":   string(pt),
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Number string `json:"number"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode sequence response: %w", err)
	}
	if out.Number == "" {
		return "", fmt.Errorf("counter service returned an empty number")
	}
	return out.Number, nil
}

// Fallback builds a locally unique number for when the counter service is
// unreachable. The timestamp plus a random suffix makes collisions
// practically impossible, and the F marker keeps the result
// non-canonical so IsCanonical flags it for renumbering.
func (a *Allocator) Fallback(st SequenceType, pt PeriodType) string {
	now := a.now().UTC()
	key, err := PeriodKey(pt, now)
	if err != nil {
		key = now.Format("20060102")
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s-%s-F%d-%s", st.Prefix(), key, now.UnixMilli(), suffix)
}
