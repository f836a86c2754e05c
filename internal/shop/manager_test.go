package shop

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nomo/internal/currency"
	"nomo/internal/experience"
	"nomo/internal/persist"
	"nomo/internal/streak"
	"nomo/internal/syncqueue"
)

type fixture struct {
	store   *persist.Store
	coins   *currency.Ledger
	levels  *experience.Ledger
	streaks *streak.Tracker
	queue   *syncqueue.Recorder
	shop    *Manager
}

func newFixture(t *testing.T, start int64, catalog *Catalog) *fixture {
	t.Helper()
	f := &fixture{
		store: persist.NewStore(persist.NewMemoryBackend(), "test.v1"),
		queue: &syncqueue.Recorder{},
	}
	f.coins = currency.New(f.store, f.queue, currency.WithStartingBalance(start))
	f.levels = experience.New(f.store, f.queue, experience.WithStartingEntities("fox"))
	f.streaks = streak.New(f.store, f.queue)
	f.shop = NewManager(f.store, catalog, f.coins, f.levels, f.streaks, f.queue)
	return f
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(append(DefaultItems(),
		Item{ID: "cape-purple", Name: "Purple Cape", Category: CategoryCosmetic, Price: 200},
	))
	require.NoError(t, err)
	return c
}

func TestBuy_EarnThenPurchase(t *testing.T) {
	f := newFixture(t, 100, testCatalog(t))

	f.coins.Credit(50)
	require.Equal(t, int64(150), f.coins.Balance())

	_, err := f.shop.Buy("cape-purple")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(150), f.coins.Balance())
	assert.False(t, f.shop.Owns("cape-purple"))

	f.coins.Credit(100)
	require.Equal(t, int64(250), f.coins.Balance())

	receipt, err := f.shop.Buy("cape-purple")
	require.NoError(t, err)
	assert.Equal(t, int64(200), receipt.Price)
	assert.Equal(t, int64(50), f.coins.Balance())

	inv := f.shop.Inventory()
	assert.Contains(t, inv.OwnedItems, "cape-purple")
	assert.Equal(t, 1, inv.PurchaseCount)
	assert.Equal(t, 1, f.queue.Count(syncqueue.KindPurchase))
	assert.Equal(t, 1, f.queue.Count(syncqueue.KindDebit))
}

func TestBuy_AlreadyOwnedDoesNotCharge(t *testing.T) {
	f := newFixture(t, 1000, nil)

	_, err := f.shop.Buy("hat-red")
	require.NoError(t, err)
	balance := f.coins.Balance()

	_, err = f.shop.Buy("hat-red")
	assert.ErrorIs(t, err, ErrAlreadyOwned)
	assert.Equal(t, balance, f.coins.Balance())
	assert.Equal(t, 1, f.shop.Inventory().PurchaseCount)
}

func TestBuy_Characters(t *testing.T) {
	f := newFixture(t, 5000, nil)

	_, err := f.shop.Buy("owl")
	assert.ErrorIs(t, err, ErrNotPurchasable, "non-exclusive characters come from leveling")

	_, err = f.shop.Buy("unicorn")
	require.NoError(t, err)
	assert.True(t, f.levels.HasEntity("unicorn"))
	assert.True(t, f.shop.Owns("unicorn"))
	assert.Equal(t, int64(4100), f.coins.Balance())

	_, err = f.shop.Buy("unicorn")
	assert.ErrorIs(t, err, ErrAlreadyOwned)
}

func TestBuy_UnknownItem(t *testing.T) {
	f := newFixture(t, 100, nil)
	_, err := f.shop.Buy("spaceship")
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.Equal(t, int64(100), f.coins.Balance())
}

type flakyWallet struct{ debits atomic.Int32 }

func (w *flakyWallet) CanAfford(int64) bool { return true }

func (w *flakyWallet) DebitFor(int64, string) bool {
	w.debits.Add(1)
	return false
}

func TestBuy_PaymentFailureLeavesInventoryUntouched(t *testing.T) {
	store := persist.NewStore(persist.NewMemoryBackend(), "test.v1")
	levels := experience.New(store, nil)
	wallet := &flakyWallet{}
	m := NewManager(store, nil, wallet, levels, streak.New(store, nil), nil)

	_, err := m.Buy("crown-gold")
	require.ErrorIs(t, err, ErrPaymentFailed)
	assert.Equal(t, int32(1), wallet.debits.Load())
	assert.Empty(t, m.Inventory().OwnedItems)
	assert.Zero(t, m.Inventory().PurchaseCount)

	_, err = m.Buy("dragon")
	require.ErrorIs(t, err, ErrPaymentFailed)
	assert.False(t, levels.HasEntity("dragon"))
}

func TestBuy_BundleGrantsContentsOnce(t *testing.T) {
	f := newFixture(t, 2000, nil)

	_, err := f.shop.Buy("hat-red")
	require.NoError(t, err)

	receipt, err := f.shop.Buy("starter-pack")
	require.NoError(t, err)
	assert.Equal(t, []string{"scarf-blue", "streak-freeze"}, receipt.Granted)

	inv := f.shop.Inventory()
	assert.Equal(t, []string{"hat-red", "scarf-blue", "starter-pack"}, inv.OwnedItems)
	assert.Equal(t, 1, f.streaks.State().FreezeCount)
	assert.Equal(t, int64(2000-120-300), f.coins.Balance())

	_, err = f.shop.Buy("starter-pack")
	assert.ErrorIs(t, err, ErrAlreadyOwned)
	assert.Equal(t, 1, f.streaks.State().FreezeCount)
}

func TestBuy_BundleUnlocksCharacters(t *testing.T) {
	f := newFixture(t, 1500, nil)
	_, err := f.shop.Buy("royal-bundle")
	require.NoError(t, err)
	assert.True(t, f.levels.HasEntity("dragon"))
	assert.True(t, f.shop.Owns("crown-gold"))
	assert.Zero(t, f.coins.Balance())
}

func TestBuy_ConsumablesAreRepeatable(t *testing.T) {
	f := newFixture(t, 1000, nil)

	_, err := f.shop.Buy("freeze-pack")
	require.NoError(t, err)
	_, err = f.shop.Buy("streak-freeze")
	require.NoError(t, err)
	_, err = f.shop.Buy("streak-freeze")
	require.NoError(t, err)

	assert.Equal(t, 5, f.streaks.State().FreezeCount)
	assert.Equal(t, int64(100), f.coins.Balance())
	assert.Equal(t, 3, f.shop.Inventory().PurchaseCount)
	assert.Empty(t, f.shop.Inventory().OwnedItems)
}

func TestBuy_UnsupportedEffectIsNotPurchasable(t *testing.T) {
	c, err := NewCatalog([]Item{
		{ID: "mystery", Category: CategoryConsumable, Price: 10, Effect: "teleport"},
	})
	require.NoError(t, err)
	f := newFixture(t, 100, c)

	_, err = f.shop.Buy("mystery")
	assert.ErrorIs(t, err, ErrNotPurchasable)
	assert.Equal(t, int64(100), f.coins.Balance())
}

func TestBuy_ConcurrentSameItem(t *testing.T) {
	f := newFixture(t, 10_000, nil)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.shop.Buy("phoenix"); err == nil {
				wins.Add(1)
			} else if !errors.Is(err, ErrAlreadyOwned) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int64(8000), f.coins.Balance())
	assert.Equal(t, 1, f.shop.Inventory().PurchaseCount)
}

func TestEquip(t *testing.T) {
	f := newFixture(t, 500, nil)

	assert.ErrorIs(t, f.shop.Equip("hat-red"), ErrNotOwned)
	assert.ErrorIs(t, f.shop.Equip("nope"), ErrItemNotFound)
	assert.ErrorIs(t, f.shop.Equip("streak-freeze"), ErrNotEquippable)

	_, err := f.shop.Buy("hat-red")
	require.NoError(t, err)
	require.NoError(t, f.shop.Equip("hat-red"))
	assert.Equal(t, "hat-red", f.shop.Inventory().EquippedCosmetic)

	f.shop.Unequip()
	assert.Empty(t, f.shop.Inventory().EquippedCosmetic)
}

func TestInventory_SurvivesRestart(t *testing.T) {
	f := newFixture(t, 500, nil)
	_, err := f.shop.Buy("scarf-blue")
	require.NoError(t, err)
	require.NoError(t, f.shop.Equip("scarf-blue"))

	again := NewManager(f.store, nil, f.coins, f.levels, f.streaks, nil)
	inv := again.Inventory()
	assert.Equal(t, []string{"scarf-blue"}, inv.OwnedItems)
	assert.Equal(t, "scarf-blue", inv.EquippedCosmetic)
	assert.Equal(t, 1, inv.PurchaseCount)
}

func TestInventory_RepairsEquippedNotOwned(t *testing.T) {
	store := persist.NewStore(persist.NewMemoryBackend(), "test.v1")
	store.Backend().Write("nomo-shop", []byte(`{"ownedItems":["hat-red","hat-red"],"equippedItem":"crown-gold","totalPurchases":2}`))

	m := NewManager(store, nil, &flakyWallet{}, experience.New(store, nil), streak.New(store, nil), nil)
	inv := m.Inventory()
	assert.Equal(t, []string{"hat-red"}, inv.OwnedItems)
	assert.Empty(t, inv.EquippedCosmetic)
	assert.Equal(t, 2, inv.PurchaseCount)
}

func TestSubscribe_PublishesCommittedPurchases(t *testing.T) {
	f := newFixture(t, 100, nil)
	var seen []Inventory
	unsubscribe := f.shop.Subscribe(func(inv Inventory) { seen = append(seen, inv) })
	defer unsubscribe()

	_, err := f.shop.Buy("crown-gold")
	require.Error(t, err)
	_, err = f.shop.Buy("glasses-round")
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, 1, seen[0].PurchaseCount)
}

func TestMessage(t *testing.T) {
	assert.Empty(t, Message(nil))
	assert.Contains(t, Message(ErrInsufficientFunds), "Not enough coins")
	_, err := newFixture(t, 0, nil).shop.Buy("hat-red")
	assert.Equal(t, Message(ErrInsufficientFunds), Message(err))
	assert.Equal(t, "Something went wrong with the shop.", Message(errors.New("boom")))
}

func TestCatalog(t *testing.T) {
	_, err := NewCatalog([]Item{{ID: "a", Category: CategoryCosmetic}, {ID: "a", Category: CategoryCosmetic}})
	assert.Error(t, err)
	_, err = NewCatalog([]Item{{ID: "b", Category: CategoryBundle, Contents: []string{"missing"}}})
	assert.Error(t, err)
	_, err = NewCatalog([]Item{{ID: "c", Category: "vehicle"}})
	assert.Error(t, err)

	c := DefaultCatalog()
	cosmetics := c.ByCategory(CategoryCosmetic)
	require.Len(t, cosmetics, 4)
	assert.Equal(t, "glasses-round", cosmetics[0].ID)
	assert.Equal(t, "crown-gold", cosmetics[3].ID)
}
