package models

import "github.com/shopspring/decimal"

// PriceLevel - уровень стакана
type PriceLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// OrderBook - снимок стакана инструмента.
// Bids отсортированы по убыванию цены, Asks по возрастанию.
type OrderBook struct {
	Symbol      string       `json:"symbol"`
	Bids        []PriceLevel `json:"bids"`
	Asks        []PriceLevel `json:"asks"`
	TimestampUs int64        `json:"timestamp_us"`
}

// BestBid возвращает лучшую цену покупки (0 если стакан пуст)
func (ob OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk возвращает лучшую цену продажи (0 если стакан пуст)
func (ob OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// Spread - разница между лучшим ask и лучшим bid.
// Считается в decimal, чтобы 50001.5-50000.5 давало ровно 1.
func (ob OrderBook) Spread() float64 {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return 0
	}
	spread := decimal.NewFromFloat(ob.BestAsk()).Sub(decimal.NewFromFloat(ob.BestBid()))
	return spread.InexactFloat64()
}

// MidPrice - середина между лучшими ценами
func (ob OrderBook) MidPrice() float64 {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return 0
	}
	mid := decimal.NewFromFloat(ob.BestAsk()).
		Add(decimal.NewFromFloat(ob.BestBid())).
		Div(decimal.NewFromInt(2))
	return mid.InexactFloat64()
}

// LatencySample - замер латентности вызова биржи (таблица latency_metrics)
type LatencySample struct {
	Operation   string `json:"operation"`
	LatencyUs   int64  `json:"latency_us"`
	TimestampUs int64  `json:"timestamp_us"`
}
