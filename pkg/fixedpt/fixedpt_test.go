package fixedpt

import "testing"

func TestFromIntRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, -1, 31, 63, 1000, -1000} {
		if got := FromInt(n).Trunc(); got != n {
			t.Errorf("FromInt(%d).Trunc() = %d, want %d", n, got, n)
		}
		if got := FromInt(n).Round(); got != n {
			t.Errorf("FromInt(%d).Round() = %d, want %d", n, got, n)
		}
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		name string
		x    Val
		want int
	}{
		{"half rounds up", Frac(1, 2), 1},
		{"just under half", Frac(49, 100), 0},
		{"one and a half", Frac(3, 2), 2},
		{"negative half", Frac(-1, 2), -1},
		{"quarter", Frac(1, 4), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.x.Round(); got != tt.want {
				t.Errorf("Round() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMulDiv(t *testing.T) {
	// (59/60) * 60 == 59
	got := Frac(59, 60).MulInt(60).Round()
	if got != 59 {
		t.Errorf("Frac(59,60)*60 = %d, want 59", got)
	}

	// (3/2) * (3/2) == 2.25 -> rounds to 2
	x := Frac(3, 2)
	if got := x.Mul(x).Round(); got != 2 {
		t.Errorf("1.5*1.5 rounded = %d, want 2", got)
	}

	// Div inverts Mul for exact values.
	a, b := FromInt(100), FromInt(4)
	if got := a.Div(b).Trunc(); got != 25 {
		t.Errorf("100/4 = %d, want 25", got)
	}
}

func TestDecayCoefficient(t *testing.T) {
	// coefficient (2*load)/(2*load+1) stays strictly below 1 for load > 0.
	for _, load := range []int{1, 2, 10, 100} {
		la := FromInt(load)
		twice := la.MulInt(2)
		coef := twice.Div(twice.AddInt(1))
		if coef >= FromInt(1) {
			t.Errorf("coefficient for load %d is >= 1", load)
		}
		if coef <= 0 {
			t.Errorf("coefficient for load %d is <= 0", load)
		}
	}
}
