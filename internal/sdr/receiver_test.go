package sdr

import (
	"sync"
	"testing"
)

func TestPool_SingleReceiverIsShared(t *testing.T) {
	rx := NewReceiver(0, WithGain(49.6), WithPPM(1), WithBiasTee(true))

	pool, err := NewPool(rx)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}

	if !pool.Shared() {
		t.Error("Single-receiver pool should be shared")
	}
	if pool.ScanReceiver() != rx {
		t.Error("Scan receiver should be the only receiver")
	}
	if got := pool.DecodeReceivers(); len(got) != 1 || got[0] != rx {
		t.Errorf("Decode receivers = %v, want the shared receiver", got)
	}
}

func TestPool_MultiReceiverDedicatesScanner(t *testing.T) {
	scanRx := NewReceiver(0)
	decodeRx := NewReceiver(1)

	pool, err := NewPool(scanRx, decodeRx)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}

	if pool.Shared() {
		t.Error("Multi-receiver pool should not be shared")
	}
	if pool.ScanReceiver() != scanRx {
		t.Error("First receiver should be dedicated to scanning")
	}

	decoders := pool.DecodeReceivers()
	if len(decoders) != 1 || decoders[0] != decodeRx {
		t.Errorf("Decode receivers = %v, want only the second receiver", decoders)
	}
}

func TestPool_RejectsDuplicateIndex(t *testing.T) {
	if _, err := NewPool(NewReceiver(0), NewReceiver(0)); err == nil {
		t.Error("Expected error for duplicate receiver index")
	}
}

func TestPool_RejectsEmpty(t *testing.T) {
	if _, err := NewPool(); err == nil {
		t.Error("Expected error for empty pool")
	}
}

func TestReceiver_ConcurrentAdjustment(t *testing.T) {
	rx := NewReceiver(0, WithGain(49.6))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rx.SetGain(float64(i))
			rx.SetBias(i%2 == 0)
			_ = rx.Gain()
			_ = rx.BiasTee()
			rx.Tune(400_050_000)
			_ = rx.Tuned()
		}(i)
	}
	wg.Wait()

	if rx.Gain() == 49.6 {
		t.Error("SetGain should replace the configured gain")
	}
}

func TestReceiver_IDAndTune(t *testing.T) {
	rx := NewReceiver(2)

	if got := rx.ID(); got != "rtlsdr-2" {
		t.Errorf("ID() = %q, want %q", got, "rtlsdr-2")
	}

	rx.Tune(402_500_000)
	if got := rx.Tuned(); got != 402_500_000 {
		t.Errorf("Tuned() = %d, want 402500000", got)
	}
}
