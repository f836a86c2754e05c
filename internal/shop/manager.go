// Package shop sells catalog items for coins. Every category goes through
// the same purchase protocol, and purchases are serialized so two attempts on
// the same item can never both pass the ownership check.
package shop

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"nomo/internal/logging"
	"nomo/internal/notify"
	"nomo/internal/persist"
	"nomo/internal/syncqueue"
)

// SliceName is the persisted record name.
const SliceName = "shop-inventory"

// Inventory is the persisted shop state. EquippedCosmetic is "" when nothing
// is equipped.
type Inventory struct {
	OwnedItems       []string `json:"ownedItems"`
	EquippedCosmetic string   `json:"equippedCosmetic"`
	PurchaseCount    int      `json:"purchaseCount"`
}

func (inv Inventory) clone() Inventory {
	inv.OwnedItems = slices.Clone(inv.OwnedItems)
	return inv
}

// Owns reports whether id is in the owned set.
func (inv Inventory) Owns(id string) bool {
	_, ok := slices.BinarySearch(inv.OwnedItems, id)
	return ok
}

func validateInventory(inv *Inventory) error {
	if inv.PurchaseCount < 0 {
		return fmt.Errorf("negative purchase count %d", inv.PurchaseCount)
	}
	owned := slices.Clone(inv.OwnedItems)
	slices.Sort(owned)
	inv.OwnedItems = slices.Compact(owned)
	if inv.EquippedCosmetic != "" && !inv.Owns(inv.EquippedCosmetic) {
		logging.ShopWarn("Equipped cosmetic %q is not owned, unequipping", inv.EquippedCosmetic)
		inv.EquippedCosmetic = ""
	}
	return nil
}

// Wallet is the currency side the shop needs.
type Wallet interface {
	CanAfford(amount int64) bool
	DebitFor(amount int64, reason string) bool
}

// Collection is the experience side: characters are owned once unlocked.
type Collection interface {
	HasEntity(id string) bool
	UnlockEntity(id string) bool
}

// FreezeGranter is the streak side used by consumables.
type FreezeGranter interface {
	AddFreeze(n int)
}

// Payload is the body of purchase operations.
type Payload struct {
	ItemID        string    `json:"itemId"`
	Category      Category  `json:"category"`
	Price         int64     `json:"price"`
	Granted       []string  `json:"granted"`
	PurchaseCount int       `json:"purchaseCount"`
	At            time.Time `json:"at"`
}

// Manager owns the shop-inventory slice.
type Manager struct {
	mu  sync.Mutex
	inv Inventory

	catalog *Catalog
	wallet  Wallet
	pets    Collection
	streaks FreezeGranter
	queue   syncqueue.Enqueuer
	now     func() time.Time

	slice *persist.Slice[Inventory]
	feed  notify.Feed[Inventory]
}

// NewManager loads the inventory from store. queue may be nil.
func NewManager(store *persist.Store, catalog *Catalog, wallet Wallet, pets Collection, streaks FreezeGranter, queue syncqueue.Enqueuer) *Manager {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	m := &Manager{
		catalog: catalog,
		wallet:  wallet,
		pets:    pets,
		streaks: streaks,
		queue:   queue,
		now:     time.Now,
	}
	m.slice = persist.NewSlice(store, persist.Schema[Inventory]{
		Slice:    SliceName,
		Version:  1,
		Default:  func() Inventory { return Inventory{} },
		Validate: validateInventory,
		Legacy: []persist.LegacySource{
			{Key: "nomo-shop", Decode: decodeLegacy},
		},
	})

	inv, outcome := m.slice.Load()
	m.inv = inv
	logging.Shop("Inventory loaded (%s): owned=%d equipped=%q purchases=%d",
		outcome, len(inv.OwnedItems), inv.EquippedCosmetic, inv.PurchaseCount)
	return m
}

// decodeLegacy converts the unversioned blob older clients kept under
// "nomo-shop", which stored the equipped item under another name.
func decodeLegacy(raw []byte) (json.RawMessage, error) {
	var old struct {
		OwnedItems     []string `json:"ownedItems"`
		EquippedItem   string   `json:"equippedItem"`
		TotalPurchases int      `json:"totalPurchases"`
	}
	if err := json.Unmarshal(raw, &old); err != nil {
		return nil, err
	}
	return json.Marshal(Inventory{
		OwnedItems:       old.OwnedItems,
		EquippedCosmetic: old.EquippedItem,
		PurchaseCount:    old.TotalPurchases,
	})
}

// Catalog returns the catalog.
func (m *Manager) Catalog() *Catalog { return m.catalog }

// Inventory returns a snapshot.
func (m *Manager) Inventory() Inventory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inv.clone()
}

// Owns reports whether id is owned, including characters already unlocked.
func (m *Manager) Owns(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.catalog.Get(id); ok && it.Category == CategoryCharacter {
		return m.pets.HasEntity(id)
	}
	return m.inv.Owns(id)
}

// Subscribe registers fn for every committed inventory change.
func (m *Manager) Subscribe(fn func(Inventory)) (unsubscribe func()) {
	return m.feed.Subscribe(fn)
}

// Buy purchases id through the line of its category.
func (m *Manager) Buy(id string) (Receipt, error) {
	m.mu.Lock()
	item, ok := m.catalog.Get(id)
	var (
		receipt Receipt
		err     error
	)
	switch {
	case !ok:
		err = fmt.Errorf("%w: %s", ErrItemNotFound, id)
	case item.Category == CategoryCharacter:
		receipt, err = purchase(m, m.characterLine(), id)
	case item.Category == CategoryCosmetic:
		receipt, err = purchase(m, m.cosmeticLine(), id)
	case item.Category == CategoryBundle:
		receipt, err = purchase(m, m.bundleLine(), id)
	case item.Category == CategoryConsumable:
		receipt, err = purchase(m, m.consumableLine(), id)
	}
	if err != nil {
		m.mu.Unlock()
		logging.ShopDebug("Purchase of %s failed: %v", id, err)
		logging.AuditFor(logging.CategoryShop).Purchase(id, item.Price, err)
		return Receipt{}, err
	}

	snapshot := m.inv.clone()
	m.enqueueLocked(receipt)
	m.slice.Save(snapshot)
	m.mu.Unlock()

	logging.Shop("Purchased %s for %d (granted %v)", id, receipt.Price, receipt.Granted)
	logging.AuditFor(logging.CategoryShop).Purchase(id, receipt.Price, nil)
	m.feed.Publish(snapshot)
	return receipt, nil
}

func (m *Manager) lookup(cat Category) func(string) (Item, bool) {
	return func(id string) (Item, bool) {
		it, ok := m.catalog.Get(id)
		if !ok || it.Category != cat {
			return Item{}, false
		}
		return it, true
	}
}

func itemPrice(it Item) int64 { return it.Price }

func (m *Manager) characterLine() Line[Item] {
	return Line[Item]{
		Category: CategoryCharacter,
		Lookup:   m.lookup(CategoryCharacter),
		Price:    itemPrice,
		Validate: func(it Item) error {
			if !it.Exclusive {
				return fmt.Errorf("%w: %s is unlocked by leveling", ErrNotPurchasable, it.ID)
			}
			return nil
		},
		Owned: m.pets.HasEntity,
		Grant: func(it Item) []string {
			m.pets.UnlockEntity(it.ID)
			return []string{it.ID}
		},
	}
}

func (m *Manager) cosmeticLine() Line[Item] {
	return Line[Item]{
		Category: CategoryCosmetic,
		Lookup:   m.lookup(CategoryCosmetic),
		Price:    itemPrice,
		Owned:    m.inv.Owns,
		Grant: func(it Item) []string {
			m.addOwnedLocked(it.ID)
			return []string{it.ID}
		},
	}
}

func (m *Manager) consumableLine() Line[Item] {
	return Line[Item]{
		Category: CategoryConsumable,
		Lookup:   m.lookup(CategoryConsumable),
		Price:    itemPrice,
		Validate: validateEffect,
		Grant: func(it Item) []string {
			m.applyEffectLocked(it)
			return []string{it.ID}
		},
	}
}

func (m *Manager) bundleLine() Line[Item] {
	owned := func(id string) bool {
		it, _ := m.catalog.Get(id)
		return it.OneTime && m.inv.Owns(id)
	}
	return Line[Item]{
		Category: CategoryBundle,
		Lookup:   m.lookup(CategoryBundle),
		Price:    itemPrice,
		Validate: func(bundle Item) error {
			for _, id := range bundle.Contents {
				content, ok := m.catalog.Get(id)
				if !ok {
					return fmt.Errorf("bundle %s contains unknown item %s", bundle.ID, id)
				}
				if content.Category == CategoryConsumable {
					if err := validateEffect(content); err != nil {
						return err
					}
				}
			}
			return nil
		},
		Owned: owned,
		Grant: func(bundle Item) []string {
			var granted []string
			for _, id := range bundle.Contents {
				content, _ := m.catalog.Get(id)
				switch content.Category {
				case CategoryCharacter:
					if m.pets.UnlockEntity(id) {
						granted = append(granted, id)
					}
				case CategoryCosmetic:
					if !m.inv.Owns(id) {
						m.addOwnedLocked(id)
						granted = append(granted, id)
					}
				case CategoryConsumable:
					m.applyEffectLocked(content)
					granted = append(granted, id)
				}
			}
			if bundle.OneTime {
				m.addOwnedLocked(bundle.ID)
			}
			return granted
		},
	}
}

func validateEffect(it Item) error {
	switch it.Effect {
	case EffectStreakFreeze:
		return nil
	}
	return fmt.Errorf("%s has unsupported effect %q", it.ID, it.Effect)
}

func (m *Manager) applyEffectLocked(it Item) {
	switch it.Effect {
	case EffectStreakFreeze:
		m.streaks.AddFreeze(it.Quantity)
	}
}

func (m *Manager) addOwnedLocked(id string) {
	i, ok := slices.BinarySearch(m.inv.OwnedItems, id)
	if !ok {
		m.inv.OwnedItems = slices.Insert(m.inv.OwnedItems, i, id)
	}
}

// Equip wears an owned cosmetic.
func (m *Manager) Equip(id string) error {
	m.mu.Lock()
	item, ok := m.catalog.Get(id)
	switch {
	case !ok:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	case item.Category != CategoryCosmetic:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is a %s", ErrNotEquippable, id, item.Category)
	case !m.inv.Owns(id):
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotOwned, id)
	}
	m.inv.EquippedCosmetic = id
	snapshot := m.inv.clone()
	m.slice.Save(snapshot)
	m.mu.Unlock()

	logging.ShopDebug("Equipped %s", id)
	m.feed.Publish(snapshot)
	return nil
}

// Unequip removes the equipped cosmetic, if any.
func (m *Manager) Unequip() {
	m.mu.Lock()
	if m.inv.EquippedCosmetic == "" {
		m.mu.Unlock()
		return
	}
	m.inv.EquippedCosmetic = ""
	snapshot := m.inv.clone()
	m.slice.Save(snapshot)
	m.mu.Unlock()

	m.feed.Publish(snapshot)
}

func (m *Manager) enqueueLocked(r Receipt) {
	if m.queue == nil {
		return
	}
	_, err := m.queue.Enqueue(syncqueue.KindPurchase, Payload{
		ItemID:        r.ItemID,
		Category:      r.Category,
		Price:         r.Price,
		Granted:       r.Granted,
		PurchaseCount: r.PurchaseCount,
		At:            m.now().UTC(),
	})
	if err != nil {
		logging.ShopWarn("Failed to enqueue purchase of %s: %v", r.ItemID, err)
	}
}
