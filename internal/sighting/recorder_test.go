package sighting

import (
	"context"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRecord_Idempotent(t *testing.T) {
	rec := NewInMemoryRecorder()
	ctx := context.Background()

	if err := rec.Record(ctx, 1, 10, testNow); err != nil {
		t.Fatalf("Record: %v", err)
	}
	// A repeat encounter is absorbed without error.
	if err := rec.Record(ctx, 1, 10, testNow.Add(time.Hour)); err != nil {
		t.Fatalf("repeat Record: %v", err)
	}

	n, err := rec.CountByDevice(ctx, 1)
	if err != nil {
		t.Fatalf("CountByDevice: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestListPinIDsByDevice(t *testing.T) {
	rec := NewInMemoryRecorder()
	ctx := context.Background()

	if err := rec.Record(ctx, 1, 10, testNow); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := rec.Record(ctx, 1, 11, testNow.Add(time.Minute)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := rec.Record(ctx, 2, 12, testNow); err != nil {
		t.Fatalf("Record: %v", err)
	}

	ids, err := rec.ListPinIDsByDevice(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListPinIDsByDevice: %v", err)
	}
	if len(ids) != 2 || ids[0] != 11 || ids[1] != 10 {
		t.Errorf("ids = %v, want [11 10] (most recent first)", ids)
	}

	ids, _ = rec.ListPinIDsByDevice(ctx, 1, 1)
	if len(ids) != 1 || ids[0] != 11 {
		t.Errorf("limited ids = %v, want [11]", ids)
	}
}

func TestDeleteByPin(t *testing.T) {
	rec := NewInMemoryRecorder()
	ctx := context.Background()

	for deviceID := int64(1); deviceID <= 3; deviceID++ {
		if err := rec.Record(ctx, deviceID, 10, testNow); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := rec.Record(ctx, 1, 11, testNow); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if err := rec.DeleteByPin(ctx, 10); err != nil {
		t.Fatalf("DeleteByPin: %v", err)
	}

	for deviceID := int64(1); deviceID <= 3; deviceID++ {
		n, _ := rec.CountByDevice(ctx, deviceID)
		want := int64(0)
		if deviceID == 1 {
			want = 1 // the pin 11 sighting survives
		}
		if n != want {
			t.Errorf("device %d count = %d, want %d", deviceID, n, want)
		}
	}
}
