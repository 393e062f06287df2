package book

import (
	"sort"

	"github.com/google/btree"
	"github.com/google/uuid"

	"perpcore/internal/state"
)

const levelTreeDegree = 8

// priceLevel holds the resting orders at one price, in arrival order.
type priceLevel struct {
	price  uint64
	orders []*state.Order
	volume uint64
}

func (l *priceLevel) push(o *state.Order) {
	l.orders = append(l.orders, o)
	l.volume += o.Remaining
}

func (l *priceLevel) remove(id uint64) *state.Order {
	for i, o := range l.orders {
		if o.ID == id {
			copy(l.orders[i:], l.orders[i+1:])
			l.orders[len(l.orders)-1] = nil
			l.orders = l.orders[:len(l.orders)-1]
			l.volume -= o.Remaining
			return o
		}
	}
	return nil
}

// bookSide keeps one side's price levels in a btree ordered best-first,
// so ascending iteration walks the matching order.
type bookSide struct {
	side   state.Side
	levels *btree.BTreeG[*priceLevel]
}

func newBookSide(s state.Side) *bookSide {
	less := func(a, b *priceLevel) bool { return a.price < b.price }
	if s == state.Buy {
		less = func(a, b *priceLevel) bool { return a.price > b.price }
	}
	return &bookSide{side: s, levels: btree.NewG(levelTreeDegree, less)}
}

func (s *bookSide) level(price uint64) (*priceLevel, bool) {
	return s.levels.Get(&priceLevel{price: price})
}

func (s *bookSide) insert(o *state.Order) {
	lvl, ok := s.level(o.Price)
	if !ok {
		lvl = &priceLevel{price: o.Price}
		s.levels.ReplaceOrInsert(lvl)
	}
	lvl.push(o)
}

func (s *bookSide) remove(o *state.Order) {
	lvl, ok := s.level(o.Price)
	if !ok {
		return
	}
	lvl.remove(o.ID)
	if len(lvl.orders) == 0 {
		s.levels.Delete(lvl)
	}
}

func (s *bookSide) best() (*priceLevel, bool) {
	var out *priceLevel
	s.levels.Ascend(func(l *priceLevel) bool {
		out = l
		return false
	})
	return out, out != nil
}

// crosses reports whether a resting price at lvl matches an incoming
// order priced at limit on the opposite side. A zero limit is a market
// order and crosses every level.
func (s *bookSide) crosses(restingPrice, limit uint64) bool {
	if limit == 0 {
		return true
	}
	if s.side == state.Sell {
		return restingPrice <= limit
	}
	return restingPrice >= limit
}

// Fill is one maker match in a plan. Price is always the maker's
// resting price.
type Fill struct {
	MakerOrderID uint64
	MakerOwner   uuid.UUID
	Price        uint64
	Size         uint64
}

// Plan is the read-only result of matching an incoming order. Nothing
// in the book changes until the plan is applied, so a caller whose
// downstream checks fail can drop the plan with no cleanup.
type Plan struct {
	Fills     []Fill
	Filled    uint64
	Remaining uint64
}

// Book is the in-memory matching structure for one market. It is a
// rebuildable view: the persistent order records are authoritative and
// the book is reconstructed from them on startup.
type Book struct {
	marketID state.MarketID
	bids     *bookSide
	asks     *bookSide
	byID     map[uint64]*state.Order
}

// New creates an empty book for the given market.
func New(marketID state.MarketID) *Book {
	return &Book{
		marketID: marketID,
		bids:     newBookSide(state.Buy),
		asks:     newBookSide(state.Sell),
		byID:     make(map[uint64]*state.Order),
	}
}

// MarketID returns the market this book serves.
func (b *Book) MarketID() state.MarketID {
	return b.marketID
}

// Len returns the number of resting orders.
func (b *Book) Len() int {
	return len(b.byID)
}

// Order returns the resting order with the given id, or nil.
func (b *Book) Order(id uint64) *state.Order {
	return b.byID[id]
}

func (b *Book) sideFor(s state.Side) *bookSide {
	if s == state.Buy {
		return b.bids
	}
	return b.asks
}

// BestBid returns the highest resting buy price.
func (b *Book) BestBid() (uint64, bool) {
	lvl, ok := b.bids.best()
	if !ok {
		return 0, false
	}
	return lvl.price, true
}

// BestAsk returns the lowest resting sell price.
func (b *Book) BestAsk() (uint64, bool) {
	lvl, ok := b.asks.best()
	if !ok {
		return 0, false
	}
	return lvl.price, true
}

// MidPrice returns the midpoint of best bid and ask.
func (b *Book) MidPrice() (uint64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	// Average without overflow.
	return bid/2 + ask/2 + (bid%2+ask%2)/2, true
}

// Match computes the fills an incoming order would receive against the
// opposite side, maker price, FIFO within a level. Orders resting for
// the same owner are skipped, never consumed. The book is not mutated.
func (b *Book) Match(taker *state.Order) Plan {
	plan := Plan{Remaining: taker.Remaining}
	opp := b.sideFor(taker.Side.Opposite())

	opp.levels.Ascend(func(lvl *priceLevel) bool {
		if !opp.crosses(lvl.price, taker.Price) {
			return false
		}
		for _, maker := range lvl.orders {
			if plan.Remaining == 0 {
				return false
			}
			if maker.Owner == taker.Owner {
				continue
			}
			size := maker.Remaining
			if plan.Remaining < size {
				size = plan.Remaining
			}
			plan.Fills = append(plan.Fills, Fill{
				MakerOrderID: maker.ID,
				MakerOwner:   maker.Owner,
				Price:        lvl.price,
				Size:         size,
			})
			plan.Filled += size
			plan.Remaining -= size
		}
		return plan.Remaining > 0
	})
	return plan
}

// WouldMatch reports whether an order at the given side and price would
// cross a resting order from a different owner. Used for post-only
// admission.
func (b *Book) WouldMatch(side state.Side, price uint64, owner uuid.UUID) bool {
	opp := b.sideFor(side.Opposite())
	matched := false
	opp.levels.Ascend(func(lvl *priceLevel) bool {
		if !opp.crosses(lvl.price, price) {
			return false
		}
		for _, maker := range lvl.orders {
			if maker.Owner != owner {
				matched = true
				return false
			}
		}
		return true
	})
	return matched
}

// Apply consumes the plan's fills from the book. Makers filled to zero
// are removed. Must be called with the plan produced by Match on the
// same unmodified book.
func (b *Book) Apply(plan Plan) {
	for _, f := range plan.Fills {
		maker := b.byID[f.MakerOrderID]
		if maker == nil {
			continue
		}
		lvl, ok := b.sideFor(maker.Side).level(maker.Price)
		if ok {
			lvl.volume -= f.Size
		}
		maker.Remaining -= f.Size
		if maker.Remaining == 0 {
			maker.Status = state.OrderFilled
			b.removeOrder(maker)
		}
	}
}

// Insert rests an order on the book.
func (b *Book) Insert(o *state.Order) {
	b.sideFor(o.Side).insert(o)
	b.byID[o.ID] = o
}

// Remove cancels a resting order, returning it, or nil if absent.
func (b *Book) Remove(id uint64) *state.Order {
	o, ok := b.byID[id]
	if !ok {
		return nil
	}
	b.removeOrder(o)
	return o
}

func (b *Book) removeOrder(o *state.Order) {
	b.sideFor(o.Side).remove(o)
	delete(b.byID, o.ID)
}

// OrdersOwnedBy returns the ids of resting orders belonging to owner,
// in ascending id order.
func (b *Book) OrdersOwnedBy(owner uuid.UUID) []uint64 {
	var ids []uint64
	for id, o := range b.byID {
		if o.Owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DepthAt returns the resting volume at the given side and price.
func (b *Book) DepthAt(side state.Side, price uint64) uint64 {
	lvl, ok := b.sideFor(side).level(price)
	if !ok {
		return 0
	}
	return lvl.volume
}
