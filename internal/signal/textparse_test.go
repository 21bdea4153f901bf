package signal

import (
	"testing"

	"signal-bridge/pkg/types"
)

const sellAlertBody = "🔴 SELL ALERT\n" +
	"Symbol: NQ1!\n" +
	"Entry: 20537\n" +
	"Stop Loss: 20620.96\n" +
	"Take Profit 1: 20450\n" +
	"Take Profit 2: 20350\n" +
	"Take Profit 3: 20250"

func TestNormalizeTextSellAlert(t *testing.T) {
	t.Parallel()

	sig, err := NormalizeText(sellAlertBody, []byte(sellAlertBody))
	if err != nil {
		t.Fatalf("normalize text: %v", err)
	}
	if sig.Symbol != "NQ" || sig.AssetClass != types.AssetFutures {
		t.Errorf("symbol/class = %s/%s, want NQ/FUTURES", sig.Symbol, sig.AssetClass)
	}
	if sig.Direction != types.Short {
		t.Errorf("direction = %s, want SHORT", sig.Direction)
	}
	if sig.EntryPrice != 20537 || sig.SL != 20620.96 || sig.TP1 != 20450 {
		t.Errorf("levels = %v/%v/%v", sig.EntryPrice, sig.SL, sig.TP1)
	}
	if sig.TP2 == nil || *sig.TP2 != 20350 || sig.TP3 == nil || *sig.TP3 != 20250 {
		t.Errorf("tp2/tp3 = %v/%v", sig.TP2, sig.TP3)
	}
}

func TestParseAlertTextTPnForm(t *testing.T) {
	t.Parallel()

	body := "BUY signal\nSymbol: BTCUSDT\nEntry: 100\nStop Loss: 95\nTP1: 105\nTP2: 110\nTP3: 115"
	raw, err := ParseAlertText(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if raw["direction"] != "LONG" {
		t.Errorf("direction = %v", raw["direction"])
	}
	for key, want := range map[string]string{"tp1": "105", "tp2": "110", "tp3": "115"} {
		if raw[key] != want {
			t.Errorf("%s = %v, want %s", key, raw[key], want)
		}
	}
}

func TestParseAlertTextTargetNumbered(t *testing.T) {
	t.Parallel()

	body := "LONG\nSymbol: AAPL\nEntry: 150\nStop Loss: 145\nTarget 1: 155\nTarget 2: 160"
	raw, err := ParseAlertText(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if raw["tp1"] != "155" || raw["tp2"] != "160" {
		t.Errorf("targets = %v/%v", raw["tp1"], raw["tp2"])
	}
}

func TestParseAlertTextBareTargetIgnored(t *testing.T) {
	t.Parallel()

	// An unnumbered "Target:" line is not a take-profit synonym.
	body := "SELL\nSymbol: EURUSD\nEntry: 1.1000\nStop Loss: 1.1050\nTarget: 1.0950"
	raw, err := ParseAlertText(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := raw["tp1"]; ok {
		t.Errorf("bare Target: must not populate tp1, got %v", raw["tp1"])
	}
}

func TestParseAlertTextDirectionFirstWordWins(t *testing.T) {
	t.Parallel()

	raw, err := ParseAlertText("SELL the rally, do not BUY\nSymbol: SPY\nEntry: 500\nStop Loss: 505\nTP1: 495")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if raw["direction"] != "SHORT" {
		t.Errorf("direction = %v, want SHORT", raw["direction"])
	}
}

func TestParseAlertTextEmpty(t *testing.T) {
	t.Parallel()

	if _, err := ParseAlertText("   \n  "); err == nil {
		t.Error("empty body should fail")
	}
}
