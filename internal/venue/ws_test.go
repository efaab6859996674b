package venue

import (
	"io"
	"log/slog"
	"time"

	"github.com/vantrace/flasharb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stubQuote(ts time.Time) domain.VenueQuote {
	return domain.VenueQuote{
		Venue:     "sushiswap",
		Pair:      "WETH/USDC",
		BuyPrice:  100.2,
		SellPrice: 100.0,
		Liquidity: 50,
		Timestamp: ts,
	}
}
