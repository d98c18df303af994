package rules

import "github.com/shopspring/decimal"

// ShareCost is the purchase price of n shares.
func (rs *Ruleset) ShareCost(id AssetID, n int) (int64, error) {
	a, err := rs.Asset(id)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, ErrInvalidShareCount
	}
	return a.CostPerShare * int64(n), nil
}

// SaleReturn is what selling n shares pays back: the purchase price times the
// sell return rate, floored.
func (rs *Ruleset) SaleReturn(id AssetID, n int) (int64, error) {
	cost, err := rs.ShareCost(id, n)
	if err != nil {
		return 0, err
	}
	return decimal.NewFromInt(cost).Mul(rs.SellReturnRate.Decimal).Floor().IntPart(), nil
}

func (rs *Ruleset) OwnershipPercent(shares int) int {
	if shares <= 0 {
		return 0
	}
	return shares * 100 / rs.MaxShares
}

// DailyProduction floors so fractional rates never leak into the integer
// token currency.
func (rs *Ruleset) DailyProduction(id AssetID, shares int) int64 {
	a, err := rs.Asset(id)
	if err != nil || shares <= 0 {
		return 0
	}
	return a.ProductionPerShare.Mul(decimal.NewFromInt(int64(shares))).Floor().IntPart()
}

// PortfolioProduction sums DailyProduction across every holding.
func (rs *Ruleset) PortfolioProduction(h Holdings) int64 {
	var total int64
	for _, row := range h {
		total += rs.DailyProduction(row.Asset, row.Shares)
	}
	return total
}

// CheckBuy validates a purchase and returns its cost.
func (rs *Ruleset) CheckBuy(balance int64, current int, id AssetID, n int) (int64, error) {
	cost, err := rs.ShareCost(id, n)
	if err != nil {
		return 0, err
	}
	if current+n > rs.MaxShares {
		return 0, &ShortfallError{Err: ErrOwnershipCapExceeded, Asset: id, Requested: int64(current + n), Available: int64(rs.MaxShares)}
	}
	if balance < cost {
		return 0, &ShortfallError{Err: ErrInsufficientFunds, Asset: id, Requested: cost, Available: balance}
	}
	return cost, nil
}

// CheckSell validates a sale and returns the tokens it pays.
func (rs *Ruleset) CheckSell(current int, id AssetID, n int) (int64, error) {
	ret, err := rs.SaleReturn(id, n)
	if err != nil {
		return 0, err
	}
	if n > current {
		return 0, &ShortfallError{Err: ErrInsufficientHoldings, Asset: id, Requested: int64(n), Available: int64(current)}
	}
	return ret, nil
}
