// Package orders implements the product catalog, promotional pricing and
// the order ledger with its forward-only status machine.
package orders

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/personapack/botsuite/internal/store"
	"github.com/personapack/botsuite/pkg/models"
)

// BotInfo describes a target bot a product can unlock.
type BotInfo struct {
	Username string `yaml:"username"`
	Title    string `yaml:"title"`
}

// catalogFile is the YAML shape of CATALOG_PATH.
type catalogFile struct {
	Bots     map[string]BotInfo `yaml:"bots"`
	Products []models.Product   `yaml:"products"`
	Promos   []models.Promo     `yaml:"promos"`
}

// Catalog holds the static product list, the bot directory and the promo
// table that shadows base prices.
type Catalog struct {
	mu       sync.RWMutex
	bots     map[string]BotInfo
	products []models.Product
	promos   map[string]models.Promo
}

// LoadCatalog reads and validates a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		bots:   f.Bots,
		promos: make(map[string]models.Promo),
	}
	if c.bots == nil {
		c.bots = make(map[string]BotInfo)
	}

	seen := make(map[string]bool)
	for _, p := range f.Products {
		if p.Code == "" {
			return nil, fmt.Errorf("catalog: product without code")
		}
		if seen[p.Code] {
			return nil, fmt.Errorf("catalog: duplicate product %q", p.Code)
		}
		seen[p.Code] = true
		if len(p.Targets) == 0 {
			return nil, fmt.Errorf("catalog: product %q has no targets", p.Code)
		}
		for _, target := range p.Targets {
			if _, ok := c.bots[target]; !ok {
				return nil, fmt.Errorf("catalog: product %q targets unknown bot %q", p.Code, target)
			}
		}
		c.products = append(c.products, p)
	}
	for _, promo := range f.Promos {
		if !seen[promo.Code] {
			return nil, fmt.Errorf("catalog: promo for unknown product %q", promo.Code)
		}
		c.promos[promo.Code] = promo
	}
	return c, nil
}

// Seed upserts every catalog product into the products table so orders can
// reference them.
func (c *Catalog) Seed(ctx context.Context, s store.ProductStore) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.products {
		if err := s.UpsertProduct(ctx, &c.products[i]); err != nil {
			return fmt.Errorf("seed product %s: %w", c.products[i].Code, err)
		}
	}
	log.Info().Int("products", len(c.products)).Msg("✅ Catalog seeded")
	return nil
}

// Products returns the catalog products in file order.
func (c *Catalog) Products() []models.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Product, len(c.products))
	copy(out, c.products)
	return out
}

// Product looks up a catalog product by code.
func (c *Catalog) Product(code string) (models.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.products {
		if p.Code == code {
			return p, true
		}
	}
	return models.Product{}, false
}

// SetPromo installs or replaces the promotional price for a product.
func (c *Catalog) SetPromo(p models.Promo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promos[p.Code] = p
	log.Info().Str("product", p.Code).Str("price", p.Price.String()).Msg("Promo price set")
}

// ClearPromo removes the promotional price for a product.
func (c *Catalog) ClearPromo(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.promos, code)
}

// Promos returns the promo table sorted by product code.
func (c *Catalog) Promos() []models.Promo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Promo, 0, len(c.promos))
	for _, p := range c.promos {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// EffectivePrice is the active promo price when one exists, else the base price.
func (c *Catalog) EffectivePrice(p *models.Product, now time.Time) models.Money {
	c.mu.RLock()
	promo, ok := c.promos[p.Code]
	c.mu.RUnlock()
	if ok && promo.Active(now) {
		return promo.Price
	}
	return p.BasePrice
}

// Bot returns the directory entry for a target bot.
func (c *Catalog) Bot(target string) (BotInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bots[target]
	return b, ok
}

// StartLink builds the deep link that redeems token in the target bot.
func (c *Catalog) StartLink(target, token string) (string, error) {
	b, ok := c.Bot(target)
	if !ok || b.Username == "" {
		return "", fmt.Errorf("no bot username configured for target %q", target)
	}
	return "https://t.me/" + b.Username + "?start=" + url.QueryEscape(token), nil
}
