package value

import (
	"math"
	"testing"

	"github.com/danmuck/luamq/internal/testutil/testlog"
)

func TestNumberIsInteger(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		in   float64
		want bool
	}{
		{0, true},
		{1, true},
		{-42, true},
		{1 << 53, true},
		{-9223372036854775808, true},
		{9223372036854775808, false},
		{1.5, false},
		{math.Copysign(0, -1), false},
		{math.NaN(), false},
		{math.Inf(1), false},
		{math.Inf(-1), false},
	}
	for _, tc := range cases {
		if got := Number(tc.in).IsInteger(); got != tc.want {
			t.Fatalf("IsInteger(%v)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestEqualMapsIgnoreOrder(t *testing.T) {
	testlog.Start(t)
	a := Map{
		{Key: String("a"), Val: Number(1)},
		{Key: String("b"), Val: Array{Bool(true), Nil{}}},
	}
	b := Map{
		{Key: String("b"), Val: Array{Bool(true), Nil{}}},
		{Key: String("a"), Val: Number(1)},
	}
	if !Equal(a, b) {
		t.Fatalf("expected maps equal regardless of order")
	}
	c := Map{
		{Key: String("a"), Val: Number(1)},
		{Key: String("b"), Val: Array{Bool(false), Nil{}}},
	}
	if Equal(a, c) {
		t.Fatalf("expected maps with different values to differ")
	}
}

func TestEqualDistinguishesArrayFromMap(t *testing.T) {
	testlog.Start(t)
	arr := Array{Number(1)}
	m := Map{{Key: Number(1), Val: Number(1)}}
	if Equal(arr, m) {
		t.Fatalf("array and map must not compare equal")
	}
	if !Equal(nil, Nil{}) {
		t.Fatalf("go nil should equal Nil")
	}
}

func TestMapGetAndLen(t *testing.T) {
	testlog.Start(t)
	m := Map{
		{Key: Number(1), Val: String("x")},
		{Key: Map{{Key: String("k"), Val: Bool(true)}}, Val: String("table key")},
	}
	if m.Len() != 2 {
		t.Fatalf("unexpected len: %d", m.Len())
	}
	got, ok := m.Get(Map{{Key: String("k"), Val: Bool(true)}})
	if !ok || got != String("table key") {
		t.Fatalf("unexpected lookup: %v %v", got, ok)
	}
	if _, ok := m.Get(String("missing")); ok {
		t.Fatalf("expected missing key")
	}
}
