package model

import "testing"

func TestFormatVolume(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
	}
	for _, c := range cases {
		if got := FormatVolume(c.in); got != c.want {
			t.Errorf("FormatVolume(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCandle_Shape(t *testing.T) {
	c := Candle{Open: 10, High: 12, Low: 9, Close: 11}
	if !c.Bullish() || c.Red() {
		t.Fatal("expected bullish candle")
	}
	if c.Body() != 1 {
		t.Errorf("body = %v, want 1", c.Body())
	}
	if c.UpperWick() != 1 {
		t.Errorf("upper wick = %v, want 1", c.UpperWick())
	}
}

func TestOrderSpec_Classes(t *testing.T) {
	oco := OrderSpec{Children: []OrderSpec{{ID: "a"}, {ID: "b"}}}
	if !oco.IsOCO() || oco.IsBracket() {
		t.Error("expected OCO")
	}
	br := OrderSpec{Type: OrderLimit, Children: []OrderSpec{{ID: "a"}, {ID: "b"}}}
	if br.IsOCO() || !br.IsBracket() {
		t.Error("expected bracket")
	}
	if !StatusRejected.Dead() || StatusFilled.Dead() || !StatusFilled.Terminal() {
		t.Error("status classification")
	}
}
