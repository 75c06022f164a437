package controlplane

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/roverlab/rover/internal/address"
	"github.com/roverlab/rover/internal/wire"
)

type fakeHandler struct {
	received chan wire.Advertisement
}

func (h *fakeHandler) HandleAdvertisement(sourcePublic address.PublicAddress, ad wire.Advertisement) {
	h.received <- ad
}

func TestEmitAndReceiveRoundTripOverMulticast(t *testing.T) {
	group := net.IPv4(224, 0, 0, 200)
	handler := &fakeHandler{received: make(chan wire.Advertisement, 1)}

	io, err := New(group, 29123, handler)
	if err != nil {
		t.Skipf("multicast not available in this environment: %v", err)
	}
	defer io.Close()

	go io.Run(context.Background())

	ad := wire.Advertisement{
		Command: wire.CommandUpdate,
		RoverID: 7,
		Records: []wire.Record{
			{Dest: wire.Address4{10, 1, 0, 1}, Mask: 24, NextHop: wire.Address4{192, 168, 0, 1}, Metric: 1},
		},
	}
	io.Emit(wire.EncodeAdvertisement(ad))

	select {
	case got := <-handler.received:
		if got.RoverID != 7 || len(got.Records) != 1 {
			t.Fatalf("unexpected advertisement received: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive own multicast advertisement in time")
	}
}
