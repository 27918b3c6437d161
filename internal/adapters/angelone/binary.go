package angelone

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"niftyPulse/internal/domain"
	"niftyPulse/internal/ports"
)

// Subscription modes recognised by the SmartAPI stream. Snap quote is the
// richest one and the only mode this adapter subscribes in; the decoder still
// accepts the smaller frames so a vendor-side downgrade does not kill the
// stream.
const (
	modeLTP       = 1
	modeQuote     = 2
	modeSnapQuote = 3
)

// Frame sizes per mode, little-endian throughout.
const (
	ltpFrameSize       = 51
	quoteFrameSize     = 123
	snapQuoteFrameSize = 379
)

// Fixed offsets within a tick frame.
const (
	offToken       = 2   // 25 null-padded bytes
	offTimestampMs = 35  // int64, exchange timestamp in ms
	offLTP         = 43  // int64, price in paise
	offVolume      = 67  // int64, total traded volume for the day
	offBestFive    = 147 // 10 x 20-byte depth packets, buys then sells
	bestFiveSize   = 20
)

// decodeTick parses one binary frame from the SmartAPI stream into a raw
// tick. Only the fields the ingestion path consumes are extracted; prices
// stay in paise exactly as they arrive on the wire.
func decodeTick(frame []byte) (domain.RawTick, error) {
	if len(frame) < ltpFrameSize {
		return domain.RawTick{}, fmt.Errorf("%w: tick frame too short (%d bytes)", ports.ErrInvalidTick, len(frame))
	}

	raw := domain.RawTick{
		InstrumentID: decodeToken(frame[offToken : offToken+25]),
	}

	ts := int64(binary.LittleEndian.Uint64(frame[offTimestampMs:]))
	raw.ExchangeTimestampMs = &ts

	ltp := int64(binary.LittleEndian.Uint64(frame[offLTP:]))
	raw.LastTradedPrice = &ltp

	if len(frame) >= quoteFrameSize {
		vol := int64(binary.LittleEndian.Uint64(frame[offVolume:]))
		raw.TotalTradedVolume = &vol
	}

	if len(frame) >= snapQuoteFrameSize {
		bid, ask := decodeBestFive(frame[offBestFive : offBestFive+10*bestFiveSize])
		raw.BestBidPrice = bid
		raw.BestAskPrice = ask
	}

	return raw, nil
}

// decodeToken trims the null padding from the fixed-width token field.
func decodeToken(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// decodeBestFive extracts the top-of-book prices from the snap-quote depth
// block. Each 20-byte packet is: buy/sell flag (int16), quantity (int64),
// price (int64), order count (int16); buy packets carry flag 1.
func decodeBestFive(block []byte) (bid, ask *int64) {
	for i := 0; i+bestFiveSize <= len(block); i += bestFiveSize {
		packet := block[i : i+bestFiveSize]
		flag := int16(binary.LittleEndian.Uint16(packet[0:]))
		price := int64(binary.LittleEndian.Uint64(packet[10:]))
		if price <= 0 {
			continue
		}
		if flag == 1 && bid == nil {
			p := price
			bid = &p
		}
		if flag == 0 && ask == nil {
			p := price
			ask = &p
		}
		if bid != nil && ask != nil {
			break
		}
	}
	return bid, ask
}
