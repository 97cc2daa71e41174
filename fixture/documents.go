package fixture

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"viewcheck/models"
)

// Historical bucket dates are fixed so the bucket is identical across runs.
var (
	HistoricalStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	HistoricalEnd   = time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)
)

// TradeSpec is a trade before its total is computed.
type TradeSpec struct {
	Date   time.Time
	Amount string
	Code   string
	Symbol string
	Price  string
}

// HistoricalTrades is the multi-symbol bucket with fixed calendar dates.
var HistoricalTrades = []TradeSpec{
	{Date: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), Amount: "100", Code: models.TradeBuy, Symbol: "ACME", Price: "10.00"},
	{Date: time.Date(2025, 1, 15, 11, 30, 0, 0, time.UTC), Amount: "50", Code: models.TradeSell, Symbol: "ACME", Price: "12.50"},
	{Date: time.Date(2025, 1, 16, 9, 45, 0, 0, time.UTC), Amount: "77", Code: models.TradeBuy, Symbol: "ZZZ", Price: "7.71"},
}

// BurstTrades returns the three tight-window trades stamped T0, T1, T2.
func (r Run) BurstTrades() []TradeSpec {
	return []TradeSpec{
		{Date: r.T0, Amount: "10", Code: models.TradeBuy, Symbol: BurstSymbol, Price: "20.0"},
		{Date: r.T1, Amount: "12", Code: models.TradeSell, Symbol: BurstSymbol, Price: "21.0"},
		{Date: r.T2, Amount: "15", Code: models.TradeBuy, Symbol: BurstSymbol, Price: "22.5"},
	}
}

// Total multiplies amount by price in decimal and rounds to cents.
func Total(amount, price decimal.Decimal) decimal.Decimal {
	return amount.Mul(price).Round(2)
}

// Trade converts a spec into the stored trade shape. Specs are package
// literals, so malformed numbers are programming errors and panic.
func (s TradeSpec) Trade() models.Trade {
	amount := decimal.RequireFromString(s.Amount)
	price := decimal.RequireFromString(s.Price)
	return models.Trade{
		Date:            s.Date,
		Amount:          amount.InexactFloat64(),
		TransactionCode: s.Code,
		Symbol:          s.Symbol,
		Price:           price.InexactFloat64(),
		Total:           Total(amount, price).InexactFloat64(),
	}
}

func (r Run) meta() models.Meta {
	return models.Meta{Tag: r.Tag}
}

// Customer owns the reserved account.
func (r Run) Customer() models.Customer {
	return models.Customer{
		ID:             r.CustomerID,
		Username:       r.Tag + "_user",
		Name:           "ASP Demo",
		Accounts:       []int64{r.AccountID},
		TierAndDetails: models.TierAndDetails{Tier: "Bronze"},
		Email:          "asp-demo@example.com",
		Meta:           r.meta(),
	}
}

func (r Run) Account() models.Account {
	return models.Account{
		AccountID: r.AccountID,
		Products:  []string{"InvestmentStock"},
		Limit:     50000,
		Meta:      r.meta(),
	}
}

func (r Run) bucket(start, end time.Time, specs []TradeSpec) models.TransactionBucket {
	trades := make([]models.Trade, 0, len(specs))
	for _, s := range specs {
		trades = append(trades, s.Trade())
	}
	return models.TransactionBucket{
		AccountID:        r.AccountID,
		TransactionCount: len(trades),
		BucketStartDate:  start,
		BucketEndDate:    end,
		Transactions:     trades,
		Meta:             r.meta(),
	}
}

func (r Run) HistoricalBucket() models.TransactionBucket {
	return r.bucket(HistoricalStart, HistoricalEnd, HistoricalTrades)
}

// BurstBucket spans T0..Now so the bucket straddles the present moment.
func (r Run) BurstBucket() models.TransactionBucket {
	return r.bucket(r.T0, r.Now, r.BurstTrades())
}

// ExpectedTradeCount is the number of trade-level documents a flattening view
// should derive from both buckets.
func ExpectedTradeCount() int {
	return len(HistoricalTrades) + 3
}

// ExpectedBurstCount is how many burst trades trade sym.
func (r Run) ExpectedBurstCount(sym string) int {
	n := 0
	for _, s := range r.BurstTrades() {
		if s.Symbol == sym {
			n++
		}
	}
	return n
}

// TradedSymbols lists every symbol the seeded buckets trade, sorted.
func TradedSymbols() []string {
	seen := map[string]bool{BurstSymbol: true}
	for _, s := range HistoricalTrades {
		seen[s.Symbol] = true
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// CleanupSymbols is the configured symbol list extended with any traded
// symbol it misses, so stats windows left by a seed are always in scope.
func (id Identity) CleanupSymbols() []string {
	out := append([]string(nil), id.Symbols...)
	for _, sym := range TradedSymbols() {
		found := false
		for _, have := range out {
			if have == sym {
				found = true
				break
			}
		}
		if !found {
			out = append(out, sym)
		}
	}
	return out
}
