package dedup

import (
	"testing"
	"time"
)

func TestDetectorFlagsRepeatWithinWindow(t *testing.T) {
	d := New(10 * time.Minute)
	defer d.Stop()

	payload := []byte("*3115552368*43125*DD8822*1234*032*2312237122028*37090*")
	now := time.Now()

	if _, dup := d.Check(payload, now); dup {
		t.Fatalf("first occurrence flagged as duplicate")
	}
	if _, dup := d.Check(payload, now.Add(time.Minute)); !dup {
		t.Fatalf("repeat within window not flagged")
	}
	if _, dup := d.Check([]byte("different payload entirely"), now); dup {
		t.Fatalf("unrelated payload flagged")
	}
}

func TestDetectorWindowExpiry(t *testing.T) {
	d := New(5 * time.Minute)
	defer d.Stop()

	payload := []byte("same bytes")
	now := time.Now()
	d.Check(payload, now)
	if _, dup := d.Check(payload, now.Add(6*time.Minute)); dup {
		t.Fatalf("repeat outside window flagged")
	}
}

func TestDetectorDisabled(t *testing.T) {
	d := New(0)
	defer d.Stop()

	payload := []byte("same bytes")
	now := time.Now()
	d.Check(payload, now)
	if _, dup := d.Check(payload, now); dup {
		t.Fatalf("disabled detector flagged a duplicate")
	}
}

func TestSweepDropsStaleEntries(t *testing.T) {
	d := New(time.Minute)
	defer d.Stop()

	now := time.Now()
	d.Check([]byte("a"), now.Add(-5*time.Minute))
	d.Check([]byte("b"), now)
	d.sweep(now)

	d.mu.Lock()
	size := len(d.seen)
	d.mu.Unlock()
	if size != 1 {
		t.Fatalf("expected 1 retained entry, got %d", size)
	}
}

func TestHashStable(t *testing.T) {
	a := Hash([]byte("payload"))
	b := Hash([]byte("payload"))
	if a != b {
		t.Fatalf("hash not stable: %x vs %x", a, b)
	}
	if Hash([]byte("other")) == a {
		t.Fatalf("distinct payloads collided")
	}
}
