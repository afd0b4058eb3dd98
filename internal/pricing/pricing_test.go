package pricing

import (
	"errors"
	"testing"
	"time"
)

func TestPriceOf(t *testing.T) {
	s := Default()

	tests := []struct {
		name    string
		tier    int
		want    int64
		wantErr bool
	}{
		{name: "free tier", tier: 0, want: 0},
		{name: "tier 10", tier: 10, want: 1000},
		{name: "tier 20", tier: 20, want: 2000},
		{name: "tier 40", tier: 40, want: 4000},
		{name: "unknown tier", tier: 13, wantErr: true},
		{name: "negative tier", tier: -10, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, err := s.PriceOf(tt.tier)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownTier) {
					t.Fatalf("expected ErrUnknownTier, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if price != tt.want {
				t.Errorf("price = %d, want %d", price, tt.want)
			}
		})
	}
}

func TestKnownTier(t *testing.T) {
	s := Default()

	if !s.KnownTier(0) || !s.KnownTier(40) {
		t.Errorf("table tiers must be known")
	}
	if s.KnownTier(13) {
		t.Errorf("tier 13 must be unknown")
	}
}

func TestRefundFor(t *testing.T) {
	s := Default()
	now := time.Now()

	tests := []struct {
		name string
		tier int
		exp  time.Time
		want int64
	}{
		{name: "expired token", tier: 10, exp: now.Add(-time.Hour), want: 0},
		{name: "expiring right now", tier: 10, exp: now, want: 0},
		{name: "free tier", tier: 0, exp: now.Add(15 * 24 * time.Hour), want: 0},
		{name: "unknown tier", tier: 13, exp: now.Add(15 * 24 * time.Hour), want: 0},
		{name: "half lifetime left", tier: 10, exp: now.Add(15 * 24 * time.Hour), want: 500},
		{name: "half lifetime tier 40", tier: 40, exp: now.Add(15 * 24 * time.Hour), want: 2000},
		{name: "one hour into tier 40", tier: 40, exp: now.Add(30*24*time.Hour - time.Hour), want: 3994},
		{name: "one day into tier 40", tier: 40, exp: now.Add(29 * 24 * time.Hour), want: 3866},
		{name: "full lifetime left", tier: 10, exp: now.Add(30 * 24 * time.Hour), want: 999},
		{name: "full lifetime left tier 40", tier: 40, exp: now.Add(30 * 24 * time.Hour), want: 3999},
		{name: "exp beyond lifetime", tier: 10, exp: now.Add(60 * 24 * time.Hour), want: 999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.RefundFor(tt.tier, tt.exp, now); got != tt.want {
				t.Errorf("refund = %d, want %d", got, tt.want)
			}
		})
	}
}

// Возврат монотонно убывает со временем и всегда строго меньше цены тарифа.
func TestRefundFor_Monotone(t *testing.T) {
	s := Default()
	start := time.Now()
	exp := start.Add(s.TokenLifetime())

	price, err := s.PriceOf(40)
	if err != nil {
		t.Fatalf("price of 40: %v", err)
	}

	prev := price
	for d := time.Duration(0); d <= 31*24*time.Hour; d += 6 * time.Hour {
		refund := s.RefundFor(40, exp, start.Add(d))
		if refund >= price {
			t.Fatalf("refund %d at +%v is not below price %d", refund, d, price)
		}
		if refund < 0 {
			t.Fatalf("refund %d at +%v is negative", refund, d)
		}
		if refund > prev {
			t.Fatalf("refund grew from %d to %d at +%v", prev, refund, d)
		}
		prev = refund
	}

	if last := s.RefundFor(40, exp, exp); last != 0 {
		t.Fatalf("refund at expiry = %d, want 0", last)
	}
}
