package gateway

import (
	"time"

	"niftyPulse/internal/domain"
)

// Prices cross the wire as fixed two-decimal strings in major units; the
// integer minor-unit representation stays internal.

type wireMessage struct {
	Type         string         `json:"type"`
	InstrumentID string         `json:"instrumentId"`
	Tick         *tickPayload   `json:"tick,omitempty"`
	Candle       *candlePayload `json:"candle,omitempty"`
}

type tickPayload struct {
	LastTradedPrice string `json:"ltp"`
	BestBidPrice    string `json:"bid,omitempty"`
	BestAskPrice    string `json:"ask,omitempty"`
	Volume          int64  `json:"volume,omitempty"`
	Timestamp       string `json:"timestamp"`
}

type candlePayload struct {
	InstrumentID string `json:"instrumentId"`
	PeriodStart  string `json:"periodStart"`
	Open         string `json:"open"`
	High         string `json:"high"`
	Low          string `json:"low"`
	Close        string `json:"close"`
	Volume       int64  `json:"volume"`
	LastUpdate   string `json:"lastUpdate"`
	Final        bool   `json:"final"`
}

func toWireMessage(ev domain.Event) wireMessage {
	msg := wireMessage{
		Type:         string(ev.Type),
		InstrumentID: ev.InstrumentID,
	}
	if ev.Tick != nil {
		msg.Tick = toTickPayload(ev.Tick)
	}
	if ev.Candle != nil {
		payload := toCandlePayload(ev.Candle, ev.Type == domain.EventCandleFinalized)
		msg.Candle = &payload
	}
	return msg
}

func toTickPayload(tick *domain.Tick) *tickPayload {
	p := &tickPayload{
		LastTradedPrice: tick.LastTradedPrice.String(),
		Volume:          tick.TotalTradedVolume,
		Timestamp:       tick.ExchangeTimestamp.Format(time.RFC3339Nano),
	}
	if tick.BestBidPrice != 0 {
		p.BestBidPrice = tick.BestBidPrice.String()
	}
	if tick.BestAskPrice != 0 {
		p.BestAskPrice = tick.BestAskPrice.String()
	}
	return p
}

func toCandlePayload(candle *domain.Candle, final bool) candlePayload {
	return candlePayload{
		InstrumentID: candle.InstrumentID,
		PeriodStart:  candle.PeriodStart.Format(time.RFC3339),
		Open:         candle.Open.String(),
		High:         candle.High.String(),
		Low:          candle.Low.String(),
		Close:        candle.Close.String(),
		Volume:       candle.Volume,
		LastUpdate:   candle.LastUpdate.Format(time.RFC3339Nano),
		Final:        final,
	}
}
