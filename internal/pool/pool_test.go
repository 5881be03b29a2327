package pool

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/oddsmill/bet-engine/internal/cpmm"
	"github.com/oddsmill/bet-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Symmetric initialization ---

func TestInitSymmetric(t *testing.T) {
	p, err := InitSymmetric(d(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.YesReserve.Equal(d(1000)) || !p.NoReserve.Equal(d(1000)) {
		t.Errorf("expected 1000/1000 reserves, got %s/%s", p.YesReserve, p.NoReserve)
	}
	if !p.InvariantK.Equal(d(1000000)) {
		t.Errorf("expected k=1,000,000, got %s", p.InvariantK)
	}

	price, err := cpmm.Price(model.OutcomeYes, p.YesReserve, p.NoReserve)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Equal(d(0.5)) {
		t.Errorf("symmetric pool should price at 0.5, got %s", price)
	}
}

func TestInitSymmetric_SizeOutOfRange(t *testing.T) {
	for _, size := range []float64{99, 0, -10, 100001} {
		if _, err := InitSymmetric(d(size)); err != ErrPoolSizeOutOfRange {
			t.Errorf("size=%v: expected ErrPoolSizeOutOfRange, got %v", size, err)
		}
	}
	for _, size := range []float64{100, 100000} {
		if _, err := InitSymmetric(d(size)); err != nil {
			t.Errorf("size=%v should be accepted, got %v", size, err)
		}
	}
}

// --- Asymmetric initialization ---

func TestInitAsymmetric_TargetSeventyPercent(t *testing.T) {
	// 2000 total at target 0.70 → no=1400, yes=600, k=840,000 and the
	// implied YES price is exactly 0.70.
	p, err := InitAsymmetric(d(2000), d(0.70))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.NoReserve.Equal(d(1400)) {
		t.Errorf("expected no=1400, got %s", p.NoReserve)
	}
	if !p.YesReserve.Equal(d(600)) {
		t.Errorf("expected yes=600, got %s", p.YesReserve)
	}
	if !p.InvariantK.Equal(d(840000)) {
		t.Errorf("expected k=840,000, got %s", p.InvariantK)
	}

	price, err := cpmm.Price(model.OutcomeYes, p.YesReserve, p.NoReserve)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Equal(d(0.70)) {
		t.Errorf("expected implied price exactly 0.70, got %s", price)
	}
}

func TestInitAsymmetric_InvalidTarget(t *testing.T) {
	for _, target := range []float64{0, 1, -0.5, 1.5} {
		if _, err := InitAsymmetric(d(2000), d(target)); err != ErrInvalidTargetPrice {
			t.Errorf("target=%v: expected ErrInvalidTargetPrice, got %v", target, err)
		}
	}
}

func TestInitAsymmetric_LiquidityOutOfRange(t *testing.T) {
	if _, err := InitAsymmetric(d(50), d(0.5)); err != ErrPoolSizeOutOfRange {
		t.Errorf("expected ErrPoolSizeOutOfRange, got %v", err)
	}
}

// --- Sizing ---

func TestOptimalSize(t *testing.T) {
	tests := []struct {
		name           string
		volume, maxBet float64
		want           float64
	}{
		{"volume dominates", 5000, 100, 10000},
		{"max bet dominates", 100, 500, 5000},
		{"clamped to min", 10, 1, 100},
		{"clamped to max", 90000, 1, 100000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OptimalSize(d(tt.volume), d(tt.maxBet))
			if !got.Equal(d(tt.want)) {
				t.Errorf("expected %v, got %s", tt.want, got)
			}
		})
	}
}

// --- Utilization / health ---

func TestUtilizationOf(t *testing.T) {
	// yes drifted down 10%, no drifted up 20%.
	u := UtilizationOf(d(900), d(1200), d(1000))
	if !u.Yes.Equal(d(0.1)) {
		t.Errorf("expected yes utilization 0.1, got %s", u.Yes)
	}
	if !u.No.Equal(d(0.2)) {
		t.Errorf("expected no utilization 0.2, got %s", u.No)
	}
	if !u.Avg.Equal(d(0.15)) {
		t.Errorf("expected avg utilization 0.15, got %s", u.Avg)
	}
}

func TestHealth_FreshPool(t *testing.T) {
	r := Health(d(1000), d(1000), d(1000))
	if !r.Healthy {
		t.Errorf("fresh pool should be healthy: %+v", r)
	}
	if len(r.Warnings) != 0 {
		t.Errorf("fresh pool should have no warnings, got %v", r.Warnings)
	}
}

func TestHealth_UtilizationWarning(t *testing.T) {
	// Avg utilization 0.85: warning, still healthy.
	r := Health(d(150), d(1850), d(1000))
	if !r.Healthy {
		t.Errorf("warned pool should still be healthy: %+v", r)
	}
	found := false
	for _, w := range r.Warnings {
		if w == "warning: pool utilization above 80%" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected utilization warning, got %v", r.Warnings)
	}
}

func TestHealth_CriticalUtilization(t *testing.T) {
	// Avg utilization ≈ 0.96 with both reserves at or above MinSize.
	r := Health(d(3950), d(101), d(2000))
	if r.Healthy {
		t.Errorf("critically utilized pool should be unhealthy: %+v", r)
	}
}

func TestHealth_ReserveBelowMinimum(t *testing.T) {
	r := Health(d(50), d(1950), d(1000))
	if r.Healthy {
		t.Errorf("pool with drained reserve should be unhealthy: %+v", r)
	}
	if len(r.Warnings) == 0 || r.Warnings[0] != "critical: reserve below minimum pool size" {
		t.Errorf("expected reserve-minimum critical first, got %v", r.Warnings)
	}
}

func TestHealth_SkewInfo(t *testing.T) {
	r := Health(d(11000), d(1000), d(6000))
	found := false
	for _, w := range r.Warnings {
		if w == "info: reserve skew beyond 10:1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected skew info, got %v", r.Warnings)
	}
}
