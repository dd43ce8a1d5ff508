package marketdata

import "testing"

const closedKline = `{
  "stream": "btcusdt@kline_1m",
  "data": {
    "e": "kline",
    "E": 1700000060000,
    "s": "BTCUSDT",
    "k": {
      "t": 1700000000000, "T": 1700000059999,
      "s": "BTCUSDT", "i": "1m",
      "o": "42000.10", "c": "42100.50", "h": "42150.00", "l": "41990.00",
      "v": "12.345", "x": true
    }
  }
}`

func TestParseKlineClosedBar(t *testing.T) {
	bar, ok := parseKline([]byte(closedKline))
	if !ok {
		t.Fatal("closed kline should parse")
	}
	if bar.Symbol != "BTCUSDT" || bar.Ts != 1700000000000 {
		t.Fatalf("identity = %s/%d", bar.Symbol, bar.Ts)
	}
	if bar.Open != 42000.10 || bar.High != 42150.00 || bar.Low != 41990.00 || bar.Close != 42100.50 {
		t.Fatalf("OHLC = %v %v %v %v", bar.Open, bar.High, bar.Low, bar.Close)
	}
	if bar.Volume != 12.345 {
		t.Fatalf("volume = %v", bar.Volume)
	}
}

func TestParseKlineSkipsOpenBar(t *testing.T) {
	open := `{"data":{"e":"kline","k":{"s":"BTCUSDT","t":1,"o":"1","h":"1","l":"1","c":"1","v":"1","x":false}}}`
	if _, ok := parseKline([]byte(open)); ok {
		t.Fatal("in-progress kline must not be forwarded")
	}
}

func TestParseKlineSkipsOtherEvents(t *testing.T) {
	trade := `{"data":{"e":"aggTrade","s":"BTCUSDT","p":"42000"}}`
	if _, ok := parseKline([]byte(trade)); ok {
		t.Fatal("non-kline event must not be forwarded")
	}
}

func TestParseKlineRejectsMalformedPayloads(t *testing.T) {
	cases := []string{
		`not json at all`,
		`{"data":{"e":"kline","k":{"s":"BTCUSDT","t":1,"o":"abc","h":"1","l":"1","c":"1","v":"1","x":true}}}`,
	}
	for _, payload := range cases {
		if _, ok := parseKline([]byte(payload)); ok {
			t.Fatalf("payload should be rejected: %s", payload)
		}
	}
}
