package binance

import (
	"reflect"
	"testing"
)

func TestStreamNamesFollowConfiguredInterval(t *testing.T) {
	got := streamNames([]string{"BTCUSDT", "ethusdt"}, "5m")
	want := []string{
		"btcusdt@kline_5m", "btcusdt@forceOrder",
		"ethusdt@kline_5m", "ethusdt@forceOrder",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestIntervalDuration(t *testing.T) {
	cases := []struct {
		interval string
		want     string
	}{
		{"1m", "1m0s"},
		{"5m", "5m0s"},
		{"15m", "15m0s"},
		{"1h", "1h0m0s"},
		{"4h", "4h0m0s"},
		{"bogus", "15m0s"}, // unknown intervals fall back to the default bar
	}
	for _, c := range cases {
		if got := intervalDuration(c.interval).String(); got != c.want {
			t.Errorf("intervalDuration(%q) = %s, want %s", c.interval, got, c.want)
		}
	}
}
