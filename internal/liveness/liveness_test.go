package liveness

import (
	"testing"
	"time"

	"github.com/roverlab/rover/internal/address"
	"github.com/roverlab/rover/internal/clock"
)

func TestFiresAfterDeadInterval(t *testing.T) {
	vc := clock.NewVirtual()
	var dead address.PrivateAddress
	var fired bool
	tr := New(vc, DeadInterval, func(n address.PrivateAddress, p address.PublicAddress) {
		dead = n
		fired = true
	})

	neighbor := address.FromID(2)
	tr.Touch(neighbor, address.PublicAddress{1, 2, 3, 4})

	vc.Advance(6 * time.Second)
	if fired {
		t.Fatal("should not have fired before dead interval elapses")
	}
	vc.Advance(2 * time.Second)
	if !fired || dead != neighbor {
		t.Fatalf("expected fire for %v, fired=%v dead=%v", neighbor, fired, dead)
	}
}

func TestTouchResetsTimer(t *testing.T) {
	vc := clock.NewVirtual()
	fired := 0
	tr := New(vc, DeadInterval, func(address.PrivateAddress, address.PublicAddress) { fired++ })
	neighbor := address.FromID(5)

	tr.Touch(neighbor, address.PublicAddress{})
	vc.Advance(5 * time.Second)
	tr.Touch(neighbor, address.PublicAddress{}) // heartbeat before expiry
	vc.Advance(5 * time.Second)
	if fired != 0 {
		t.Fatalf("expected no fire yet, got %d", fired)
	}
	vc.Advance(2 * time.Second)
	if fired != 1 {
		t.Fatalf("expected exactly one fire, got %d", fired)
	}
}

func TestCancelDisarms(t *testing.T) {
	vc := clock.NewVirtual()
	fired := false
	tr := New(vc, DeadInterval, func(address.PrivateAddress, address.PublicAddress) { fired = true })
	neighbor := address.FromID(7)
	tr.Touch(neighbor, address.PublicAddress{})
	tr.Cancel(neighbor)
	vc.Advance(100 * time.Second)
	if fired {
		t.Fatal("cancelled timer should never fire")
	}
}

func TestFiresExactlyOnce(t *testing.T) {
	vc := clock.NewVirtual()
	count := 0
	tr := New(vc, DeadInterval, func(address.PrivateAddress, address.PublicAddress) { count++ })
	neighbor := address.FromID(9)
	tr.Touch(neighbor, address.PublicAddress{})
	vc.Advance(10 * time.Second)
	vc.Advance(10 * time.Second)
	if count != 1 {
		t.Fatalf("expected exactly one firing, got %d", count)
	}
}
