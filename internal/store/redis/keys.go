// Package redis carries bot output to the dashboard gateway and operator
// commands back to the bot. Key layout, for symbol BTCUSDT:
//
//	state:BTCUSDT             latest State JSON (SET)
//	trades:BTCUSDT            recent closed positions, newest first (LIST)
//	pub:eval:BTCUSDT          Evaluation per closed candle (PUBLISH)
//	pub:position:BTCUSDT      PositionEvent on open/close (PUBLISH)
//	pub:state:BTCUSDT         State after every change (PUBLISH)
//	pub:tick:BTCUSDT          live price (PUBLISH)
//	pub:market:BTCUSDT        MarketStats every poll (PUBLISH)
//	ctl:BTCUSDT               operator Command (PUBLISH)
//	ctl:reply:<command id>    Reply to one Command (PUBLISH)
package redis

// PubPattern matches every dashboard channel.
const PubPattern = "pub:*"

// maxTrades bounds the trades list.
const maxTrades = 500

func StateKey(symbol string) string        { return "state:" + symbol }
func TradesKey(symbol string) string       { return "trades:" + symbol }
func EvalChannel(symbol string) string     { return "pub:eval:" + symbol }
func PositionChannel(symbol string) string { return "pub:position:" + symbol }
func StateChannel(symbol string) string    { return "pub:state:" + symbol }
func TickChannel(symbol string) string     { return "pub:tick:" + symbol }
func MarketChannel(symbol string) string   { return "pub:market:" + symbol }
func ControlChannel(symbol string) string  { return "ctl:" + symbol }
func ReplyChannel(id string) string        { return "ctl:reply:" + id }
