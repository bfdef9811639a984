package chain

import (
	"fmt"
	"sort"
	"time"
)

// DB is the in-memory ledger index substrate: object tables with ordered
// secondary indices. It is single-writer; the surrounding block application
// serializes all access, so there is no locking here. Iteration order of
// every index is fully deterministic.
type DB struct {
	now time.Time

	accounts map[AccountID]*Account
	assets   map[AssetID]*Asset

	balances map[balanceKey]int64
	// vesting holds market-fee reward balances. The engine only deposits;
	// withdrawal claims live outside the core.
	vesting map[balanceKey]int64

	limitOrders map[ObjectID]*LimitOrder
	callOrders  map[ObjectID]*CallOrder
	settlements map[ObjectID]*ForceSettlement
	bids        map[ObjectID]*CollateralBid

	// books indexes limit orders per directed market, best price first.
	books map[marketKey][]*LimitOrder
	// callIndex orders margin positions per debt asset, least
	// collateralized first.
	callIndex map[AssetID][]*CallOrder
	// settleIndex orders pending settlements per debt asset by maturity.
	settleIndex map[AssetID][]*ForceSettlement
	// bidIndex orders collateral bids per debt asset, best ratio first.
	bidIndex map[AssetID][]*CollateralBid

	nextObjectID  ObjectID
	nextAssetID   AssetID
	nextAccountID AccountID

	// MarketFeeNetworkPercent is the network's cut of every market fee,
	// in Percent100 units.
	MarketFeeNetworkPercent uint16
}

type balanceKey struct {
	Account AccountID
	Asset   AssetID
}

type marketKey struct {
	Sell    AssetID
	Receive AssetID
}

// NewDB creates an empty ledger with the core asset and network account
// pre-registered.
func NewDB() *DB {
	db := &DB{
		accounts:    make(map[AccountID]*Account),
		assets:      make(map[AssetID]*Asset),
		balances:    make(map[balanceKey]int64),
		vesting:     make(map[balanceKey]int64),
		limitOrders: make(map[ObjectID]*LimitOrder),
		callOrders:  make(map[ObjectID]*CallOrder),
		settlements: make(map[ObjectID]*ForceSettlement),
		bids:        make(map[ObjectID]*CollateralBid),
		books:       make(map[marketKey][]*LimitOrder),
		callIndex:   make(map[AssetID][]*CallOrder),
		settleIndex: make(map[AssetID][]*ForceSettlement),
		bidIndex:    make(map[AssetID][]*CollateralBid),
	}
	network := &Account{ID: NetworkAccount, Name: "network"}
	db.accounts[network.ID] = network
	db.nextAccountID = 1
	core := &Asset{
		ID:        CoreAsset,
		Symbol:    "CORE",
		Issuer:    NetworkAccount,
		Precision: 5,
		Options:   AssetOptions{MaxSupply: MaxShareSupply},
	}
	db.assets[core.ID] = core
	db.nextAssetID = 1
	db.nextObjectID = 1
	return db
}

// Now returns the ledger's current time (head block time).
func (db *DB) Now() time.Time { return db.now }

// SetTime advances the ledger clock. Called once per applied block.
func (db *DB) SetTime(t time.Time) { db.now = t }

func (db *DB) allocateObjectID() ObjectID {
	id := db.nextObjectID
	db.nextObjectID++
	return id
}

// --- Accounts ---

// CreateAccount registers an account with its referral configuration.
func (db *DB) CreateAccount(name string, registrar, referrer AccountID, referrerRewardsPercentage uint16) *Account {
	a := &Account{
		ID:                        db.nextAccountID,
		Name:                      name,
		Registrar:                 registrar,
		Referrer:                  referrer,
		ReferrerRewardsPercentage: referrerRewardsPercentage,
	}
	db.nextAccountID++
	db.accounts[a.ID] = a
	return a
}

// Account looks up an account by id.
func (db *DB) Account(id AccountID) (*Account, bool) {
	a, ok := db.accounts[id]
	return a, ok
}

// --- Assets ---

// CreateAsset registers an asset and returns it with its assigned id. A
// non-nil bitasset makes the asset collateral backed; its AssetID field is
// filled in here.
func (db *DB) CreateAsset(symbol string, issuer AccountID, precision uint8, opts AssetOptions, bitasset *BitassetData) *Asset {
	a := &Asset{
		ID:        db.nextAssetID,
		Symbol:    symbol,
		Issuer:    issuer,
		Precision: precision,
		Options:   opts,
		Bitasset:  bitasset,
	}
	if bitasset != nil {
		bitasset.AssetID = a.ID
		if bitasset.Feeds == nil {
			bitasset.Feeds = make(map[AccountID]TimestampedFeed)
		}
	}
	db.nextAssetID++
	db.assets[a.ID] = a
	return a
}

// Asset looks up an asset by id.
func (db *DB) Asset(id AssetID) (*Asset, bool) {
	a, ok := db.assets[id]
	return a, ok
}

// MustAsset looks up an asset that is known to exist.
func (db *DB) MustAsset(id AssetID) *Asset {
	a, ok := db.assets[id]
	if !ok {
		panic(fmt.Sprintf("FATAL: dangling asset id %d", id))
	}
	return a
}

// Bitassets returns all bitasset-backed assets in id order.
func (db *DB) Bitassets() []*Asset {
	out := make([]*Asset, 0)
	for _, a := range db.assets {
		if a.IsBitasset() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- Balances ---

// Balance returns an account's balance in an asset.
func (db *DB) Balance(account AccountID, asset AssetID) int64 {
	return db.balances[balanceKey{account, asset}]
}

// AdjustBalance credits (or debits, for negative delta) an account. A debit
// below zero is rejected without mutation.
func (db *DB) AdjustBalance(account AccountID, delta AssetAmount) error {
	if delta.Amount == 0 {
		return nil
	}
	key := balanceKey{account, delta.Asset}
	next := db.balances[key] + delta.Amount
	if next < 0 {
		return fmt.Errorf("insufficient balance: account %d asset %d has %d, delta %d",
			account, delta.Asset, db.balances[key], delta.Amount)
	}
	db.balances[key] = next
	return nil
}

// DepositVesting credits a market-fee reward vesting balance.
func (db *DB) DepositVesting(account AccountID, amount AssetAmount) {
	if amount.Amount <= 0 {
		return
	}
	db.vesting[balanceKey{account, amount.Asset}] += amount.Amount
}

// VestingBalance returns an account's accumulated reward balance.
func (db *DB) VestingBalance(account AccountID, asset AssetID) int64 {
	return db.vesting[balanceKey{account, asset}]
}

// --- Limit orders ---

// bookLess orders a book: best price first, then oldest order.
func bookLess(a, b *LimitOrder) bool {
	if !a.SellPrice.Equal(b.SellPrice) {
		return a.SellPrice.Greater(b.SellPrice)
	}
	return a.ID < b.ID
}

// InsertLimitOrder assigns an id and indexes the order into its book.
func (db *DB) InsertLimitOrder(o *LimitOrder) *LimitOrder {
	o.ID = db.allocateObjectID()
	db.limitOrders[o.ID] = o
	key := marketKey{Sell: o.SellAsset(), Receive: o.ReceiveAsset()}
	book := db.books[key]
	i := sort.Search(len(book), func(i int) bool { return !bookLess(book[i], o) })
	book = append(book, nil)
	copy(book[i+1:], book[i:])
	book[i] = o
	db.books[key] = book
	return o
}

// RemoveLimitOrder drops the order from its book and the object table.
func (db *DB) RemoveLimitOrder(o *LimitOrder) {
	key := marketKey{Sell: o.SellAsset(), Receive: o.ReceiveAsset()}
	db.books[key] = removeOrder(db.books[key], o.ID)
	delete(db.limitOrders, o.ID)
}

func removeOrder(book []*LimitOrder, id ObjectID) []*LimitOrder {
	for i, o := range book {
		if o.ID == id {
			return append(book[:i], book[i+1:]...)
		}
	}
	return book
}

// LimitOrder looks up an order by id.
func (db *DB) LimitOrder(id ObjectID) (*LimitOrder, bool) {
	o, ok := db.limitOrders[id]
	return o, ok
}

// BestLimitOrder returns the top of the book selling sell for receive, or
// nil when the book is empty.
func (db *DB) BestLimitOrder(sell, receive AssetID) *LimitOrder {
	book := db.books[marketKey{Sell: sell, Receive: receive}]
	if len(book) == 0 {
		return nil
	}
	return book[0]
}

// LimitOrders returns the book selling sell for receive, best first. The
// returned slice is a copy; fills may remove orders while iterating it.
func (db *DB) LimitOrders(sell, receive AssetID) []*LimitOrder {
	book := db.books[marketKey{Sell: sell, Receive: receive}]
	out := make([]*LimitOrder, len(book))
	copy(out, book)
	return out
}

// ExpiredLimitOrders returns every order with expiration at or before t, in
// id order.
func (db *DB) ExpiredLimitOrders(t time.Time) []*LimitOrder {
	out := make([]*LimitOrder, 0)
	for _, o := range db.limitOrders {
		if !o.Expiration.IsZero() && !o.Expiration.After(t) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- Call orders ---

// callLess orders positions least collateralized first, then oldest.
func callLess(a, b *CallOrder) bool {
	ac, bc := a.Collateralization(), b.Collateralization()
	if !ac.Equal(bc) {
		return ac.Less(bc)
	}
	return a.ID < b.ID
}

// InsertCallOrder assigns an id and indexes the position.
func (db *DB) InsertCallOrder(c *CallOrder) *CallOrder {
	c.ID = db.allocateObjectID()
	db.callOrders[c.ID] = c
	db.indexCall(c)
	return c
}

func (db *DB) indexCall(c *CallOrder) {
	idx := db.callIndex[c.DebtAsset]
	i := sort.Search(len(idx), func(i int) bool { return !callLess(idx[i], c) })
	idx = append(idx, nil)
	copy(idx[i+1:], idx[i:])
	idx[i] = c
	db.callIndex[c.DebtAsset] = idx
}

func (db *DB) unindexCall(c *CallOrder) {
	idx := db.callIndex[c.DebtAsset]
	for i, o := range idx {
		if o.ID == c.ID {
			db.callIndex[c.DebtAsset] = append(idx[:i], idx[i+1:]...)
			return
		}
	}
}

// ModifyCallOrder applies a mutation and reindexes the position, since its
// collateralization ordering almost certainly changed.
func (db *DB) ModifyCallOrder(c *CallOrder, mutate func(*CallOrder)) {
	db.unindexCall(c)
	mutate(c)
	db.indexCall(c)
}

// RemoveCallOrder drops a position from index and table.
func (db *DB) RemoveCallOrder(c *CallOrder) {
	db.unindexCall(c)
	delete(db.callOrders, c.ID)
}

// CallOrder looks up a position by id.
func (db *DB) CallOrder(id ObjectID) (*CallOrder, bool) {
	c, ok := db.callOrders[id]
	return c, ok
}

// LeastCollateralizedCall returns the position closest to a margin call for
// a debt asset, or nil when none are open. Under the legacy rule variant
// positions are picked by cached call price instead.
func (db *DB) LeastCollateralizedCall(debt AssetID, byCachedPrice bool) *CallOrder {
	idx := db.callIndex[debt]
	if len(idx) == 0 {
		return nil
	}
	if !byCachedPrice {
		return idx[0]
	}
	best := idx[0]
	for _, c := range idx[1:] {
		if c.CachedCallPrice.Less(best.CachedCallPrice) ||
			(c.CachedCallPrice.Equal(best.CachedCallPrice) && c.ID < best.ID) {
			best = c
		}
	}
	return best
}

// CallOrdersFor returns all open positions for a debt asset, least
// collateralized first. The slice is a copy.
func (db *DB) CallOrdersFor(debt AssetID) []*CallOrder {
	idx := db.callIndex[debt]
	out := make([]*CallOrder, len(idx))
	copy(out, idx)
	return out
}

// FindCallOrder returns a borrower's position in a debt asset, if any.
// One position per borrower per asset.
func (db *DB) FindCallOrder(borrower AccountID, debt AssetID) *CallOrder {
	for _, c := range db.callIndex[debt] {
		if c.Borrower == borrower {
			return c
		}
	}
	return nil
}

// --- Force settlements ---

func settleLess(a, b *ForceSettlement) bool {
	if !a.SettlementDate.Equal(b.SettlementDate) {
		return a.SettlementDate.Before(b.SettlementDate)
	}
	return a.ID < b.ID
}

// InsertSettlement assigns an id and indexes the request by maturity.
func (db *DB) InsertSettlement(s *ForceSettlement) *ForceSettlement {
	s.ID = db.allocateObjectID()
	db.settlements[s.ID] = s
	idx := db.settleIndex[s.Balance.Asset]
	i := sort.Search(len(idx), func(i int) bool { return !settleLess(idx[i], s) })
	idx = append(idx, nil)
	copy(idx[i+1:], idx[i:])
	idx[i] = s
	db.settleIndex[s.Balance.Asset] = idx
	return s
}

// RemoveSettlement drops a settlement request.
func (db *DB) RemoveSettlement(s *ForceSettlement) {
	idx := db.settleIndex[s.Balance.Asset]
	for i, o := range idx {
		if o.ID == s.ID {
			db.settleIndex[s.Balance.Asset] = append(idx[:i], idx[i+1:]...)
			break
		}
	}
	delete(db.settlements, s.ID)
}

// Settlement looks up a settlement request by id.
func (db *DB) Settlement(id ObjectID) (*ForceSettlement, bool) {
	s, ok := db.settlements[id]
	return s, ok
}

// MaturedSettlements returns requests for the asset due at or before t,
// oldest first. The slice is a copy.
func (db *DB) MaturedSettlements(asset AssetID, t time.Time) []*ForceSettlement {
	idx := db.settleIndex[asset]
	out := make([]*ForceSettlement, 0)
	for _, s := range idx {
		if s.SettlementDate.After(t) {
			break
		}
		out = append(out, s)
	}
	return out
}

// SettlementsFor returns all pending requests for an asset, oldest first.
func (db *DB) SettlementsFor(asset AssetID) []*ForceSettlement {
	idx := db.settleIndex[asset]
	out := make([]*ForceSettlement, len(idx))
	copy(out, idx)
	return out
}

// --- Collateral bids ---

// bidLess orders bids best collateral ratio first, then oldest.
func bidLess(a, b *CollateralBid) bool {
	if !a.InvSwanPrice.Equal(b.InvSwanPrice) {
		return a.InvSwanPrice.Greater(b.InvSwanPrice)
	}
	return a.ID < b.ID
}

// InsertBid assigns an id and indexes the bid.
func (db *DB) InsertBid(b *CollateralBid) *CollateralBid {
	b.ID = db.allocateObjectID()
	db.bids[b.ID] = b
	debt := b.DebtCovered().Asset
	idx := db.bidIndex[debt]
	i := sort.Search(len(idx), func(i int) bool { return !bidLess(idx[i], b) })
	idx = append(idx, nil)
	copy(idx[i+1:], idx[i:])
	idx[i] = b
	db.bidIndex[debt] = idx
	return b
}

// RemoveBid drops a bid.
func (db *DB) RemoveBid(b *CollateralBid) {
	debt := b.DebtCovered().Asset
	idx := db.bidIndex[debt]
	for i, o := range idx {
		if o.ID == b.ID {
			db.bidIndex[debt] = append(idx[:i], idx[i+1:]...)
			break
		}
	}
	delete(db.bids, b.ID)
}

// BidsFor returns all bids on an asset, best first. The slice is a copy.
func (db *DB) BidsFor(asset AssetID) []*CollateralBid {
	idx := db.bidIndex[asset]
	out := make([]*CollateralBid, len(idx))
	copy(out, idx)
	return out
}

// FindBid returns a bidder's standing bid on an asset, if any.
func (db *DB) FindBid(bidder AccountID, asset AssetID) *CollateralBid {
	for _, b := range db.bidIndex[asset] {
		if b.Bidder == bidder {
			return b
		}
	}
	return nil
}
