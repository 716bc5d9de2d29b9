package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/personapack/botsuite/internal/config"
	"github.com/personapack/botsuite/internal/store"
	"github.com/personapack/botsuite/pkg/models"
)

// newTestStore opens a fresh SQLite store in a temp dir.
func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.Open(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProduct(t *testing.T, s store.Store) {
	t.Helper()
	err := s.UpsertProduct(context.Background(), &models.Product{
		Code:      "copy",
		Title:     "Copy assistant",
		BasePrice: 549000,
		Targets:   []string{"copy", "content"},
	})
	if err != nil {
		t.Fatalf("UpsertProduct() error = %v", err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 2; i++ {
		if err := s.Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate() run %d error = %v", i+1, err)
		}
	}
}

func TestTokenInsertGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)

	tok := &models.CapabilityToken{Token: "abc123", Target: "botA", Owner: 42, ExpiresAt: &exp, CreatedAt: time.Now()}
	if err := s.InsertToken(ctx, tok); err != nil {
		t.Fatalf("InsertToken() error = %v", err)
	}

	got, err := s.GetToken(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if got.Owner != 42 || got.Target != "botA" {
		t.Errorf("GetToken() = %+v, want owner 42 target botA", got)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
		t.Errorf("GetToken().ExpiresAt = %v, want %v", got.ExpiresAt, exp)
	}

	deleted, err := s.DeleteToken(ctx, "abc123")
	if err != nil || !deleted {
		t.Fatalf("DeleteToken() = %v, %v; want true, nil", deleted, err)
	}
	deleted, _ = s.DeleteToken(ctx, "abc123")
	if deleted {
		t.Error("second DeleteToken() reported a deleted row")
	}

	_, err = s.GetToken(ctx, "abc123")
	if !store.IsNotFound(err) {
		t.Errorf("GetToken() after delete error = %v, want ErrNotFound", err)
	}
}

func TestInsertToken_Conflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tok := &models.CapabilityToken{Token: "dup", Target: "botA", Owner: 1, CreatedAt: time.Now()}
	if err := s.InsertToken(ctx, tok); err != nil {
		t.Fatalf("InsertToken() error = %v", err)
	}
	if err := s.InsertToken(ctx, tok); !errors.Is(err, store.ErrConflict) {
		t.Errorf("duplicate InsertToken() error = %v, want ErrConflict", err)
	}
}

func TestInsertToken_ConflictKeepsTransactionUsable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	taken := &models.CapabilityToken{Token: "taken", Target: "botA", Owner: 1, CreatedAt: time.Now()}
	if err := s.InsertToken(ctx, taken); err != nil {
		t.Fatalf("InsertToken() error = %v", err)
	}

	err := s.WithTx(ctx, func(q store.Queries) error {
		dup := *taken
		dup.Owner = 2
		if err := q.InsertToken(ctx, &dup); !errors.Is(err, store.ErrConflict) {
			t.Errorf("colliding InsertToken() error = %v, want ErrConflict", err)
		}
		dup.Token = "fresh"
		return q.InsertToken(ctx, &dup)
	})
	if err != nil {
		t.Fatalf("WithTx() after collision error = %v", err)
	}

	got, err := s.GetToken(ctx, "fresh")
	if err != nil || got.Owner != 2 {
		t.Errorf("GetToken(fresh) = %+v, %v; want owner 2", got, err)
	}
	if orig, err := s.GetToken(ctx, "taken"); err != nil || orig.Owner != 1 {
		t.Errorf("GetToken(taken) = %+v, %v; want original owner 1", orig, err)
	}
}

func TestDeleteExpiredTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	for _, tok := range []*models.CapabilityToken{
		{Token: "old", Target: "a", Owner: 1, ExpiresAt: &past, CreatedAt: now},
		{Token: "fresh", Target: "a", Owner: 1, ExpiresAt: &future, CreatedAt: now},
		{Token: "forever", Target: "a", Owner: 1, CreatedAt: now},
	} {
		if err := s.InsertToken(ctx, tok); err != nil {
			t.Fatalf("InsertToken(%s) error = %v", tok.Token, err)
		}
	}

	n, err := s.DeleteExpiredTokens(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredTokens() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpiredTokens() removed %d, want 1", n)
	}
	if _, err := s.GetToken(ctx, "forever"); err != nil {
		t.Errorf("non-expiring token was purged: %v", err)
	}
}

func TestInsertGrant_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := &models.AccessGrant{Owner: 42, Target: "botA", GrantedAt: time.Now()}
	for i := 0; i < 3; i++ {
		if err := s.InsertGrant(ctx, g); err != nil {
			t.Fatalf("InsertGrant() call %d error = %v", i+1, err)
		}
	}
	n, err := s.CountGrants(ctx, 42, "botA")
	if err != nil {
		t.Fatalf("CountGrants() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CountGrants() = %d, want 1", n)
	}
	if ok, _ := s.HasGrant(ctx, 99, "botA"); ok {
		t.Error("HasGrant() true for a different user")
	}
}

func TestProducts_UpsertAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s)

	// Second upsert replaces the price.
	if err := s.UpsertProduct(ctx, &models.Product{Code: "copy", Title: "Copy", BasePrice: 100, Targets: []string{"copy"}}); err != nil {
		t.Fatalf("UpsertProduct() error = %v", err)
	}
	got, err := s.GetProduct(ctx, "copy")
	if err != nil {
		t.Fatalf("GetProduct() error = %v", err)
	}
	if got.BasePrice != 100 || len(got.Targets) != 1 {
		t.Errorf("GetProduct() = %+v, want price 100 and one target", got)
	}

	list, err := s.ListProducts(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("ListProducts() = %d items, %v; want 1, nil", len(list), err)
	}

	if _, err := s.GetProduct(ctx, "nope"); !store.IsNotFound(err) {
		t.Errorf("GetProduct(nope) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateOrderStatus_CompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s)

	now := time.Now()
	o := &models.Order{Buyer: 7, ProductCode: "copy", Amount: 249000, Status: models.OrderPending, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if o.ID == 0 {
		t.Fatal("CreateOrder() did not assign an ID")
	}

	from := []models.OrderStatus{models.OrderPending, models.OrderAwaitingPayment}
	changed, err := s.UpdateOrderStatus(ctx, o.ID, from, models.OrderPaid)
	if err != nil || !changed {
		t.Fatalf("first UpdateOrderStatus() = %v, %v; want true, nil", changed, err)
	}
	changed, err = s.UpdateOrderStatus(ctx, o.ID, from, models.OrderPaid)
	if err != nil || changed {
		t.Errorf("second UpdateOrderStatus() = %v, %v; want false, nil", changed, err)
	}

	got, _ := s.GetOrder(ctx, o.ID)
	if got.Status != models.OrderPaid {
		t.Errorf("Status = %q, want %q", got.Status, models.OrderPaid)
	}

	paid, err := s.ListOrders(ctx, store.OrderFilter{Status: models.OrderPaid})
	if err != nil || len(paid) != 1 {
		t.Errorf("ListOrders(paid) = %d, %v; want 1, nil", len(paid), err)
	}
}

func TestWithTx_RollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(q store.Queries) error {
		if err := q.InsertGrant(ctx, &models.AccessGrant{Owner: 1, Target: "x", GrantedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want boom", err)
	}
	if ok, _ := s.HasGrant(ctx, 1, "x"); ok {
		t.Error("grant survived a rolled-back transaction")
	}
}
