package shop

import (
	"fmt"
	"sort"
)

// Category groups catalog items that share a purchase line.
type Category string

const (
	CategoryCharacter  Category = "character"
	CategoryCosmetic   Category = "cosmetic"
	CategoryBundle     Category = "bundle"
	CategoryConsumable Category = "consumable"
)

// EffectStreakFreeze grants Quantity streak freezes.
const EffectStreakFreeze = "streak-freeze"

// Item is one catalog entry.
type Item struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Category  Category `json:"category" yaml:"category"`
	Price     int64    `json:"price" yaml:"price"`
	Exclusive bool     `json:"exclusive,omitempty" yaml:"exclusive"` // characters: only exclusives are sold
	OneTime   bool     `json:"oneTime,omitempty" yaml:"one_time"`    // bundles: recorded as owned once bought
	Contents  []string `json:"contents,omitempty" yaml:"contents"`
	Effect    string   `json:"effect,omitempty" yaml:"effect"`
	Quantity  int      `json:"quantity,omitempty" yaml:"quantity"`
}

// Catalog is an immutable set of items.
type Catalog struct {
	items map[string]Item
	order []string
}

// NewCatalog validates items and builds a catalog.
func NewCatalog(items []Item) (*Catalog, error) {
	c := &Catalog{items: make(map[string]Item, len(items))}
	for _, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("catalog item without id")
		}
		if _, dup := c.items[it.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog item %q", it.ID)
		}
		if it.Price < 0 {
			return nil, fmt.Errorf("catalog item %q has negative price", it.ID)
		}
		switch it.Category {
		case CategoryCharacter, CategoryCosmetic, CategoryBundle, CategoryConsumable:
		default:
			return nil, fmt.Errorf("catalog item %q has unknown category %q", it.ID, it.Category)
		}
		if it.Name == "" {
			it.Name = it.ID
		}
		if it.Category == CategoryConsumable && it.Quantity <= 0 {
			it.Quantity = 1
		}
		it.Contents = append([]string(nil), it.Contents...)
		c.items[it.ID] = it
		c.order = append(c.order, it.ID)
	}
	for _, it := range c.items {
		if it.Category != CategoryBundle {
			continue
		}
		if len(it.Contents) == 0 {
			return nil, fmt.Errorf("bundle %q is empty", it.ID)
		}
		for _, id := range it.Contents {
			content, ok := c.items[id]
			if !ok {
				return nil, fmt.Errorf("bundle %q contains unknown item %q", it.ID, id)
			}
			if content.Category == CategoryBundle {
				return nil, fmt.Errorf("bundle %q contains bundle %q", it.ID, id)
			}
		}
	}
	return c, nil
}

// DefaultItems is the built-in catalog.
func DefaultItems() []Item {
	return []Item{
		{ID: "fox", Name: "Fox", Category: CategoryCharacter},
		{ID: "owl", Name: "Owl", Category: CategoryCharacter},
		{ID: "unicorn", Name: "Unicorn", Category: CategoryCharacter, Price: 900, Exclusive: true},
		{ID: "dragon", Name: "Dragon", Category: CategoryCharacter, Price: 1200, Exclusive: true},
		{ID: "phoenix", Name: "Phoenix", Category: CategoryCharacter, Price: 2000, Exclusive: true},

		{ID: "glasses-round", Name: "Round Glasses", Category: CategoryCosmetic, Price: 60},
		{ID: "scarf-blue", Name: "Blue Scarf", Category: CategoryCosmetic, Price: 80},
		{ID: "hat-red", Name: "Red Hat", Category: CategoryCosmetic, Price: 120},
		{ID: "crown-gold", Name: "Gold Crown", Category: CategoryCosmetic, Price: 500},

		{ID: "streak-freeze", Name: "Streak Freeze", Category: CategoryConsumable, Price: 200, Effect: EffectStreakFreeze, Quantity: 1},
		{ID: "freeze-pack", Name: "Freeze Pack", Category: CategoryConsumable, Price: 500, Effect: EffectStreakFreeze, Quantity: 3},

		{ID: "starter-pack", Name: "Starter Pack", Category: CategoryBundle, Price: 300, OneTime: true,
			Contents: []string{"hat-red", "scarf-blue", "streak-freeze"}},
		{ID: "royal-bundle", Name: "Royal Bundle", Category: CategoryBundle, Price: 1500, OneTime: true,
			Contents: []string{"crown-gold", "dragon"}},
	}
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultItems())
	if err != nil {
		panic(err)
	}
	return c
}

// Get looks up an item.
func (c *Catalog) Get(id string) (Item, bool) {
	it, ok := c.items[id]
	return it, ok
}

// Items returns every item in catalog order.
func (c *Catalog) Items() []Item {
	out := make([]Item, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// ByCategory returns the items of one category sorted by price.
func (c *Catalog) ByCategory(cat Category) []Item {
	var out []Item
	for _, id := range c.order {
		if it := c.items[id]; it.Category == cat {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}
