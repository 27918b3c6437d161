package domain

// OptionType distinguishes calls from puts.
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// Instrument is the static metadata for one tradable token, resolved from the
// externally supplied scrip-master table. The live-data core only ever keys
// on Token; the rest exists for presentation and option-chain selection.
type Instrument struct {
	Token           string // opaque instrument id used by the feed
	Symbol          string // e.g. "NIFTY13MAR2522500CE"
	Name            string // underlying name, e.g. "NIFTY"
	ExchangeSegment string // e.g. "NFO", "NSE"
	InstrumentType  string // e.g. "OPTIDX"
	Expiry          string     // vendor format, e.g. "13MAR2025"; empty for non-derivatives
	Strike          Price      // zero for non-options
	OptionType      OptionType // empty for non-options
}

// IsOption reports whether the instrument is an option contract.
func (i *Instrument) IsOption() bool {
	return i.OptionType == OptionCall || i.OptionType == OptionPut
}
