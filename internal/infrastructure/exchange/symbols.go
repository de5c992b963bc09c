package exchange

import "strings"

var quoteCoins = []string{"USDT", "USDC", "USD"}

// ToVenueSymbol converts "BTC/USDT" to "BTCUSDT".
func ToVenueSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// FromVenueSymbol converts "BTCUSDT" to "BTC/USDT". Unknown quotes are
// returned unchanged.
func FromVenueSymbol(symbol string) string {
	if strings.Contains(symbol, "/") {
		return symbol
	}
	for _, q := range quoteCoins {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return symbol[:len(symbol)-len(q)] + "/" + q
		}
	}
	return symbol
}
