package bidding

import (
	model "auction-engine/internal/models"

	"github.com/shopspring/decimal"
)

// standingProxy is a bidder's active ceiling and when it was registered
type standingProxy struct {
	userID     string
	ceiling    decimal.Decimal
	registered int64 // seq of the first bid in the current run carrying this ceiling
}

// proxyCounter is the single counter-bid produced by one resolution pass
type proxyCounter struct {
	userID  string
	amount  decimal.Decimal
	ceiling decimal.Decimal
}

// standingProxies derives each bidder's current ceiling from the bid history.
// bids must be in seq order. A bidder's latest proxy bid sets the ceiling;
// later bids with the same ceiling keep the original registration.
func standingProxies(bids []model.Bid) map[string]standingProxy {
	proxies := make(map[string]standingProxy)
	for _, b := range bids {
		if !b.IsProxy || b.ProxyCeiling == nil {
			continue
		}
		current, ok := proxies[b.UserID]
		if ok && current.ceiling.Equal(*b.ProxyCeiling) {
			continue
		}
		proxies[b.UserID] = standingProxy{userID: b.UserID, ceiling: *b.ProxyCeiling, registered: b.Seq}
	}
	return proxies
}

// resolveProxy picks the counter-bid, if any, that answers a new bid of
// amount by bidderID. Only proxies of other bidders whose ceiling covers
// amount+increment qualify; the highest ceiling wins and equal ceilings go
// to the earliest registration. It never recurses.
func resolveProxy(bids []model.Bid, bidderID string, amount, increment decimal.Decimal) (proxyCounter, bool) {
	required := amount.Add(increment)

	var (
		best  standingProxy
		found bool
	)
	for _, p := range standingProxies(bids) {
		if p.userID == bidderID || p.ceiling.LessThan(required) {
			continue
		}
		if !found ||
			p.ceiling.GreaterThan(best.ceiling) ||
			(p.ceiling.Equal(best.ceiling) && p.registered < best.registered) {
			best = p
			found = true
		}
	}
	if !found {
		return proxyCounter{}, false
	}

	return proxyCounter{
		userID:  best.userID,
		amount:  decimal.Min(required, best.ceiling),
		ceiling: best.ceiling,
	}, true
}

// previousLeader is the most recent bidder other than userID, if any
func previousLeader(bids []model.Bid, userID string) (string, bool) {
	for i := len(bids) - 1; i >= 0; i-- {
		if bids[i].UserID != userID {
			return bids[i].UserID, true
		}
	}
	return "", false
}
