package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/toeirei/bandward/internal/model"
	"golang.org/x/sync/errgroup"
)

func createDevice(t *testing.T, s *Store, uid string, status model.DeviceStatus) {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := model.Device{ID: uuid.NewString(), UID: uid, Status: status, RegisteredAt: now, UpdatedAt: now}
	if err := s.CreateDevice(context.Background(), d); err != nil {
		t.Fatalf("CreateDevice(%s): %v", uid, err)
	}
}

func TestDevices_CreateGetDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createDevice(t, s, "D1", model.DeviceInventory)

	d, err := s.GetDevice(ctx, "D1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if d.Status != model.DeviceInventory || d.ID == "" {
		t.Fatalf("unexpected device: %+v", d)
	}
	if _, err := s.GetDevice(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	err = s.CreateDevice(ctx, model.Device{ID: uuid.NewString(), UID: "D1", Status: model.DeviceInventory})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := s.UpdateDeviceStatus(ctx, "nope", model.DeviceActive, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestBindDevice_SingleBoundBinding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createDevice(t, s, "D1", model.DeviceInventory)
	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	b1, err := s.BindDevice(ctx, "D1", "F1", t0)
	if err != nil {
		t.Fatalf("BindDevice: %v", err)
	}
	if b1.ID == 0 || b1.Status != model.BindingBound {
		t.Fatalf("unexpected binding: %+v", b1)
	}
	d, _ := s.GetDevice(ctx, "D1")
	if d.Status != model.DeviceActive {
		t.Fatalf("inventory device should become active, got %s", d.Status)
	}

	if _, err := s.BindDevice(ctx, "D1", "F2", t0.Add(time.Hour)); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	cur, err := s.BoundBinding(ctx, "D1")
	if err != nil {
		t.Fatalf("BoundBinding: %v", err)
	}
	if cur.FacilityID != "F2" {
		t.Fatalf("expected F2, got %s", cur.FacilityID)
	}
	hist, err := s.ListBindings(ctx, "D1")
	if err != nil {
		t.Fatalf("ListBindings: %v", err)
	}
	bound := 0
	for _, b := range hist {
		if b.Status == model.BindingBound {
			bound++
		}
	}
	if len(hist) != 2 || bound != 1 {
		t.Fatalf("expected 2 bindings with one bound, got %+v", hist)
	}
	if hist[1].Status != model.BindingRemoved || hist[1].EndedAt.IsZero() {
		t.Fatalf("previous binding should be removed with end time: %+v", hist[1])
	}

	seen := t0.Add(2 * time.Hour)
	if err := s.TouchBinding(ctx, "D1", seen); err != nil {
		t.Fatalf("TouchBinding: %v", err)
	}
	cur, _ = s.BoundBinding(ctx, "D1")
	if !cur.LastSeenAt.Equal(seen) {
		t.Fatalf("lastSeenAt = %v, want %v", cur.LastSeenAt, seen)
	}

	if err := s.EndBinding(ctx, "D1", model.BindingRevoked, seen); err != nil {
		t.Fatalf("EndBinding: %v", err)
	}
	if _, err := s.BoundBinding(ctx, "D1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no bound binding, got %v", err)
	}
	if err := s.EndBinding(ctx, "D1", model.BindingRevoked, seen); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound ending twice, got %v", err)
	}
}

func TestBindDevice_ConcurrentBindsLeaveOneBound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createDevice(t, s, "D1", model.DeviceActive)
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		facility := fmt.Sprintf("F%d", i)
		g.Go(func() error {
			_, err := s.BindDevice(ctx, "D1", facility, t0)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("BindDevice: %v", err)
	}
	hist, err := s.ListBindings(ctx, "D1")
	if err != nil {
		t.Fatalf("ListBindings: %v", err)
	}
	bound := 0
	for _, b := range hist {
		if b.Status == model.BindingBound {
			bound++
		}
	}
	if len(hist) != 8 || bound != 1 {
		t.Fatalf("expected 8 bindings with exactly one bound, got %d bound of %d", bound, len(hist))
	}
}

func TestBindDevice_SecondBoundRowIsRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createDevice(t, s, "D1", model.DeviceActive)
	if _, err := s.BindDevice(ctx, "D1", "F1", time.Now()); err != nil {
		t.Fatalf("BindDevice: %v", err)
	}
	stray := &BindingModel{DeviceUID: "D1", FacilityID: "F2", Status: string(model.BindingBound), BoundAt: 1}
	_, err := s.bun.NewInsert().Model(stray).Exec(ctx)
	if !errors.Is(MapDBError(err), ErrDuplicate) {
		t.Fatalf("expected the unique index to reject a second bound binding, got %v", err)
	}

	if _, err := s.BindDevice(ctx, "ghost", "F1", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound binding an unknown device, got %v", err)
	}
}
