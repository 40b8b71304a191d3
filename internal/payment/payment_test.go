package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func req(ref, token string) ChargeRequest {
	return ChargeRequest{Reference: ref, Amount: 90000, Currency: "clp", Token: token}
}

func TestSandbox_ChargeOutcomes(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  Status
	}{
		{"default succeeds", "tok_visa", StatusSucceeded},
		{"decline", TokenDecline, StatusDeclined},
		{"pending", TokenPending, StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := NewSandbox()
			res, err := sb.Charge(context.Background(), req("rsv_1", tt.token))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)

			looked, err := sb.Lookup(context.Background(), "rsv_1", time.Time{})
			require.NoError(t, err)
			assert.Equal(t, res, looked)
		})
	}
}

func TestSandbox_ReferenceIsIdempotent(t *testing.T) {
	sb := NewSandbox()
	first, err := sb.Charge(context.Background(), req("rsv_1", "tok_visa"))
	require.NoError(t, err)

	second, err := sb.Charge(context.Background(), req("rsv_1", TokenDecline))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, sb.Calls())
}

func TestSandbox_SlowAndLost(t *testing.T) {
	sb := NewSandbox()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sb.Charge(ctx, req("rsv_slow", TokenSlow))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	res, err := sb.Lookup(context.Background(), "rsv_slow", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Status, "slow charge settled despite the timeout")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err = sb.Charge(ctx2, req("rsv_lost", TokenLost))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	res, err = sb.Lookup(context.Background(), "rsv_lost", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, res.Status)
}

func TestChargeRequest_Validate(t *testing.T) {
	sb := NewSandbox()
	_, err := sb.Charge(context.Background(), ChargeRequest{Reference: "x", Amount: 0, Currency: "clp"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = sb.Charge(context.Background(), ChargeRequest{Amount: 10, Currency: "clp"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, 0, sb.Calls())
}

func TestLimited(t *testing.T) {
	sb := NewSandbox()
	assert.Same(t, Gateway(sb), NewLimited(sb, 0, 0), "zero rate disables limiting")

	gw := NewLimited(sb, 1, 1)
	_, err := gw.Charge(context.Background(), req("rsv_a", "tok_visa"))
	require.NoError(t, err)

	// the bucket is empty and the next token is a second away
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = gw.Charge(ctx, req("rsv_b", "tok_visa"))
	assert.Error(t, err)
	assert.Equal(t, 1, sb.Calls())
}

func TestChargeResult(t *testing.T) {
	msg := "insufficient funds"

	ok := &omise.Charge{}
	ok.ID, ok.Status = "chrg_1", "successful"
	assert.Equal(t, Result{Status: StatusSucceeded, AuthorizationCode: "chrg_1"}, chargeResult(ok))

	failed := &omise.Charge{FailureMessage: &msg}
	failed.ID, failed.Status = "chrg_2", "failed"
	assert.Equal(t, Result{Status: StatusDeclined, AuthorizationCode: "chrg_2", FailureReason: msg}, chargeResult(failed))

	pending := &omise.Charge{}
	pending.ID, pending.Status = "chrg_3", "pending"
	assert.Equal(t, Result{Status: StatusPending, AuthorizationCode: "chrg_3"}, chargeResult(pending))
}

// pagedCharges serves n charges named rsv_0..rsv_{n-1}, oldest first.
func pagedCharges(n int, calls *[]operations.List) chargeLister {
	return func(_ context.Context, page operations.List) (*omise.ChargeList, error) {
		*calls = append(*calls, page)
		list := &omise.ChargeList{}
		for i := page.Offset; i < n && i < page.Offset+page.Limit; i++ {
			ch := &omise.Charge{Metadata: map[string]interface{}{referenceKey: fmt.Sprintf("rsv_%d", i)}}
			ch.ID, ch.Status = fmt.Sprintf("chrg_%d", i), "successful"
			list.Data = append(list.Data, ch)
		}
		return list, nil
	}
}

func TestFindCharge(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	t.Run("found beyond the first page", func(t *testing.T) {
		var calls []operations.List
		res, err := findCharge(ctx, pagedCharges(250, &calls), "rsv_230", from, 100, 5)
		require.NoError(t, err)
		assert.Equal(t, Result{Status: StatusSucceeded, AuthorizationCode: "chrg_230"}, res)
		require.Len(t, calls, 3)
		assert.Equal(t, 200, calls[2].Offset)
		assert.Equal(t, from, calls[0].From)
		assert.Equal(t, omise.Chronological, calls[0].Order)
	})

	t.Run("not found once the list runs out", func(t *testing.T) {
		var calls []operations.List
		res, err := findCharge(ctx, pagedCharges(150, &calls), "rsv_other", from, 100, 5)
		require.NoError(t, err)
		assert.Equal(t, StatusNotFound, res.Status)
		assert.Len(t, calls, 2)
	})

	t.Run("gives up without ruling the charge out", func(t *testing.T) {
		var calls []operations.List
		_, err := findCharge(ctx, pagedCharges(1000, &calls), "rsv_999", from, 100, 3)
		assert.ErrorIs(t, err, ErrLookupIncomplete)
		assert.Len(t, calls, 3)
	})

	t.Run("list error", func(t *testing.T) {
		failing := func(context.Context, operations.List) (*omise.ChargeList, error) {
			return nil, errors.New("connection reset")
		}
		_, err := findCharge(ctx, failing, "rsv_1", from, 100, 3)
		assert.EqualError(t, err, "connection reset")
	})
}
