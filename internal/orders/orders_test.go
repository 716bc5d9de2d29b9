package orders_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/personapack/botsuite/internal/config"
	"github.com/personapack/botsuite/internal/orders"
	"github.com/personapack/botsuite/internal/store"
	"github.com/personapack/botsuite/pkg/models"
)

const testCatalog = `
bots:
  unpack: {username: unpack_test_bot, title: Unpacking}
  copy: {username: copy_test_bot, title: Copywriter}
  content: {username: content_test_bot, title: Content}
products:
  - code: copy
    title: Copywriter + content
    price: "5490.00"
    targets: [copy, content]
  - code: unpack
    title: Unpacking
    price: 1990
    targets: [unpack]
`

func newTestLedger(t *testing.T) (*orders.Ledger, *orders.Catalog, *store.SQLStore, *time.Time) {
	t.Helper()
	s, err := store.Open(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "orders.db"),
	})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cat, err := orders.ParseCatalog([]byte(testCatalog))
	if err != nil {
		t.Fatalf("ParseCatalog() error = %v", err)
	}
	if err := cat.Seed(context.Background(), s); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := orders.NewLedger(s, cat).WithClock(func() time.Time { return now })
	return ledger, cat, s, &now
}

func TestParseCatalog_Prices(t *testing.T) {
	cat, err := orders.ParseCatalog([]byte(testCatalog))
	if err != nil {
		t.Fatalf("ParseCatalog() error = %v", err)
	}
	products := cat.Products()
	if len(products) != 2 {
		t.Fatalf("Products() = %d, want 2", len(products))
	}
	if products[0].BasePrice != 549000 {
		t.Errorf("copy price = %s, want 5490.00", products[0].BasePrice)
	}
	if products[1].BasePrice != 199000 {
		t.Errorf("unpack price = %s, want 1990.00", products[1].BasePrice)
	}

	link, err := cat.StartLink("copy", "tok_1")
	if err != nil {
		t.Fatalf("StartLink() error = %v", err)
	}
	if link != "https://t.me/copy_test_bot?start=tok_1" {
		t.Errorf("StartLink() = %q", link)
	}
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown target": "bots: {}\nproducts:\n  - {code: a, title: A, price: 1, targets: [ghost]}\n",
		"no targets":     "products:\n  - {code: a, title: A, price: 1}\n",
		"duplicate":      "bots: {x: {username: x}}\nproducts:\n  - {code: a, price: 1, targets: [x]}\n  - {code: a, price: 1, targets: [x]}\n",
		"orphan promo":   "promos:\n  - {code: nope, price: 1}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := orders.ParseCatalog([]byte(doc)); err == nil {
				t.Error("ParseCatalog() error = nil, want validation error")
			}
		})
	}
}

func TestCreate_PromoPriceSnapshot(t *testing.T) {
	ledger, cat, s, now := newTestLedger(t)
	ctx := context.Background()

	ends := now.Add(24 * time.Hour)
	cat.SetPromo(models.Promo{Code: "copy", Price: 249000, EndsAt: &ends})

	order, err := ledger.Create(ctx, 42, "copy")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if order.Amount.String() != "2490.00" {
		t.Errorf("Amount = %s, want 2490.00", order.Amount)
	}

	// Promo window ends and the live price changes; the order keeps its snapshot.
	*now = ends.Add(time.Hour)
	if err := s.UpsertProduct(ctx, &models.Product{Code: "copy", Title: "Copy", BasePrice: 699000, Targets: []string{"copy"}}); err != nil {
		t.Fatalf("UpsertProduct() error = %v", err)
	}
	got, err := ledger.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Amount != 249000 {
		t.Errorf("stored Amount = %s, want 2490.00", got.Amount)
	}

	later, err := ledger.Create(ctx, 43, "copy")
	if err != nil {
		t.Fatalf("Create() after promo error = %v", err)
	}
	if later.Amount != 699000 {
		t.Errorf("post-promo Amount = %s, want 6990.00", later.Amount)
	}
}

func TestCreate_UnknownProduct(t *testing.T) {
	ledger, _, _, _ := newTestLedger(t)
	_, err := ledger.Create(context.Background(), 1, "ghost")
	if !errors.Is(err, orders.ErrUnknownProduct) {
		t.Errorf("Create(ghost) error = %v, want ErrUnknownProduct", err)
	}
}

func TestPromo_Window(t *testing.T) {
	_, cat, _, now := newTestLedger(t)
	product := &models.Product{Code: "unpack", BasePrice: 199000}

	starts := now.Add(time.Hour)
	cat.SetPromo(models.Promo{Code: "unpack", Price: 99000, StartsAt: &starts})
	if got := cat.EffectivePrice(product, *now); got != 199000 {
		t.Errorf("EffectivePrice before window = %s, want base", got)
	}
	if got := cat.EffectivePrice(product, starts); got != 99000 {
		t.Errorf("EffectivePrice inside window = %s, want promo", got)
	}
	cat.ClearPromo("unpack")
	if got := cat.EffectivePrice(product, starts); got != 199000 {
		t.Errorf("EffectivePrice after ClearPromo = %s, want base", got)
	}
}

func TestStatusMachine(t *testing.T) {
	ledger, _, s, _ := newTestLedger(t)
	ctx := context.Background()

	order, err := ledger.Create(ctx, 1, "unpack")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := ledger.MarkAwaitingPayment(ctx, order.ID)
		if err != nil {
			t.Fatalf("MarkAwaitingPayment() call %d error = %v", i+1, err)
		}
		if got.Status != models.OrderAwaitingPayment {
			t.Errorf("Status = %q, want awaiting_payment", got.Status)
		}
	}

	var transitions int
	for i := 0; i < 2; i++ {
		err := s.WithTx(ctx, func(q store.Queries) error {
			changed, _, err := ledger.MarkPaidTx(ctx, q, order.ID)
			if changed {
				transitions++
			}
			return err
		})
		if err != nil {
			t.Fatalf("MarkPaidTx() call %d error = %v", i+1, err)
		}
	}
	if transitions != 1 {
		t.Errorf("paid transitions = %d, want 1", transitions)
	}

	if _, err := ledger.MarkAwaitingPayment(ctx, order.ID); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Errorf("MarkAwaitingPayment(paid) error = %v, want ErrInvalidTransition", err)
	}
	if _, _, err := ledger.MarkRejected(ctx, order.ID); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Errorf("MarkRejected(paid) error = %v, want ErrInvalidTransition", err)
	}
}

func TestReject(t *testing.T) {
	ledger, _, s, _ := newTestLedger(t)
	ctx := context.Background()

	order, err := ledger.Create(ctx, 1, "unpack")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	changed, _, err := ledger.MarkRejected(ctx, order.ID)
	if err != nil || !changed {
		t.Fatalf("MarkRejected() = %v, %v; want true, nil", changed, err)
	}
	changed, _, err = ledger.MarkRejected(ctx, order.ID)
	if err != nil || changed {
		t.Errorf("second MarkRejected() = %v, %v; want false, nil", changed, err)
	}

	err = s.WithTx(ctx, func(q store.Queries) error {
		_, _, err := ledger.MarkPaidTx(ctx, q, order.ID)
		return err
	})
	if !errors.Is(err, orders.ErrInvalidTransition) {
		t.Errorf("MarkPaidTx(rejected) error = %v, want ErrInvalidTransition", err)
	}
}

func TestMissingOrder(t *testing.T) {
	ledger, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.Get(ctx, 404); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Errorf("Get(404) error = %v, want ErrOrderNotFound", err)
	}
	if _, err := ledger.MarkAwaitingPayment(ctx, 404); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Errorf("MarkAwaitingPayment(404) error = %v, want ErrOrderNotFound", err)
	}
	if _, _, err := ledger.MarkRejected(ctx, 404); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Errorf("MarkRejected(404) error = %v, want ErrOrderNotFound", err)
	}
}
