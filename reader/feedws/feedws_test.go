package feedws

import (
	"context"
	"testing"
	"time"

	"optionflow/config"
	"optionflow/internal/channel"
)

func newTestReader() (*Reader, *channel.Channels) {
	ch := channel.NewChannels(4, 4, 4, 4, 4)
	r := NewReader(config.Default().Reader.FeedWS, ch)
	r.ctx = context.Background()
	return r, ch
}

func TestDispatchTick(t *testing.T) {
	r, ch := newTestReader()

	r.dispatch([]byte(`{"type":"tick","payload":{
		"instrument_key":"NSE_FO|1","timestamp":"2026-03-02T09:15:05Z",
		"price":100.5,"quantity":25,"side":"buy"}}`))

	select {
	case tick := <-ch.Ticks:
		if tick.InstrumentKey != "NSE_FO|1" || tick.Price != 100.5 || tick.Quantity != 25 {
			t.Fatalf("unexpected tick %+v", tick)
		}
	default:
		t.Fatal("tick not forwarded")
	}
}

func TestDispatchChainDefaultsTimestamp(t *testing.T) {
	r, ch := newTestReader()

	before := time.Now().UTC()
	r.dispatch([]byte(`{"type":"chain","payload":{
		"instrument_key":"NSE_FO|1","iv":18.5,"delta":0.55}}`))

	select {
	case chain := <-ch.Chains:
		if chain.IV != 18.5 {
			t.Fatalf("unexpected chain %+v", chain)
		}
		if chain.Timestamp.Before(before) {
			t.Fatalf("missing timestamp must default to receive time, got %v", chain.Timestamp)
		}
	default:
		t.Fatal("chain not forwarded")
	}
}

func TestDispatchBook(t *testing.T) {
	r, ch := newTestReader()

	r.dispatch([]byte(`{"type":"book","payload":{
		"instrument_key":"NSE_FO|1","timestamp":"2026-03-02T09:15:05Z",
		"bids":[{"price":99.5,"quantity":100}],"asks":[{"price":100.5,"quantity":80}],
		"total_bid_qty":100,"total_ask_qty":80}}`))

	select {
	case book := <-ch.Books:
		if len(book.Bids) != 1 || book.TotalAskQty != 80 {
			t.Fatalf("unexpected book %+v", book)
		}
	default:
		t.Fatal("book not forwarded")
	}
}

func TestDispatchRejectsInvalid(t *testing.T) {
	r, ch := newTestReader()

	r.dispatch([]byte(`not json`))
	r.dispatch([]byte(`{"type":"tick","payload":{"price":1}}`))
	r.dispatch([]byte(`{"type":"tick","payload":{"instrument_key":"a","price":1}}`))
	r.dispatch([]byte(`{"type":"chain","payload":{"iv":18.5}}`))
	r.dispatch([]byte(`{"type":"trade","payload":{}}`))

	if len(ch.Ticks) != 0 || len(ch.Chains) != 0 || len(ch.Books) != 0 {
		t.Fatalf("invalid messages must be dropped: %d/%d/%d",
			len(ch.Ticks), len(ch.Chains), len(ch.Books))
	}
}
