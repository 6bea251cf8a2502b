package hub

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func newTestSignaling(t *testing.T) *Signaling {
	t.Helper()
	s := NewSignaling(webrtc.Configuration{}, true)
	t.Cleanup(s.CloseAll)
	return s
}

func initOffer(t *testing.T, s *Signaling, droneID string) Signal {
	t.Helper()
	got := make(chan Signal, 1)
	s.Init(context.Background(), droneID, func(sig Signal) { got <- sig })

	select {
	case sig := <-got:
		return sig
	case <-time.After(iceGatherTimeout + time.Second):
		t.Fatal("no offer produced")
		return Signal{}
	}
}

// answerFor plays the drone side: it accepts offer and returns a complete answer.
func answerFor(t *testing.T, offer Signal) json.RawMessage {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		t.Fatalf("SetRemoteDescription() error = %v", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("CreateAnswer() error = %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		t.Fatal(err)
	}
	<-gathered

	raw, err := json.Marshal(Signal{Type: "answer", SDP: pc.LocalDescription().SDP})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestSignalingOfferAndAnswer(t *testing.T) {
	s := newTestSignaling(t)

	offer := initOffer(t, s, "drone-1")
	if offer.Type != "offer" {
		t.Fatalf("signal type = %q, want offer", offer.Type)
	}
	for _, section := range []string{"m=video", "m=application"} {
		if !strings.Contains(offer.SDP, section) {
			t.Errorf("offer has no %s section", section)
		}
	}
	if got := s.Peers(); got != 1 {
		t.Fatalf("Peers() = %d, want 1", got)
	}

	if err := s.Accept("drone-1", answerFor(t, offer)); err != nil {
		t.Errorf("Accept(answer) error = %v", err)
	}
}

func TestSignalingAcceptErrors(t *testing.T) {
	s := newTestSignaling(t)
	initOffer(t, s, "drone-1")

	tests := []struct {
		name    string
		droneID string
		raw     string
		unknown bool
	}{
		{name: "unknown drone", droneID: "drone-2", raw: `{"type":"answer","sdp":"v=0"}`, unknown: true},
		{name: "malformed signal", droneID: "drone-1", raw: `{"type":`},
		{name: "unsupported type", droneID: "drone-1", raw: `{"type":"pranswer"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Accept(tt.droneID, json.RawMessage(tt.raw))
			if err == nil {
				t.Fatal("Accept() succeeded")
			}
			if got := errors.Is(err, ErrUnknownPeer); got != tt.unknown {
				t.Errorf("errors.Is(%v, ErrUnknownPeer) = %v, want %v", err, got, tt.unknown)
			}
		})
	}
}

func TestSignalingReinitReplacesPeer(t *testing.T) {
	s := newTestSignaling(t)

	initOffer(t, s, "drone-1")
	s.mu.Lock()
	first := s.peers["drone-1"]
	s.mu.Unlock()

	initOffer(t, s, "drone-1")
	if got := s.Peers(); got != 1 {
		t.Errorf("Peers() = %d, want 1", got)
	}
	if first.SignalingState() != webrtc.SignalingStateClosed {
		t.Error("previous peer connection left open")
	}

	s.Close("drone-1")
	if got := s.Peers(); got != 0 {
		t.Errorf("Peers() after Close = %d, want 0", got)
	}
}

func TestSignalingDropKeepsNewerPeer(t *testing.T) {
	s := newTestSignaling(t)

	stale, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	current, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	s.replace("drone-1", current)

	// A failed offer for an older connection must not tear down the newer one.
	s.drop("drone-1", stale)

	s.mu.Lock()
	registered := s.peers["drone-1"]
	s.mu.Unlock()
	if registered != current {
		t.Fatal("newer peer connection was unregistered")
	}
	if current.SignalingState() == webrtc.SignalingStateClosed {
		t.Error("newer peer connection was closed")
	}
	if stale.SignalingState() != webrtc.SignalingStateClosed {
		t.Error("failed peer connection left open")
	}

	s.drop("drone-1", current)
	if got := s.Peers(); got != 0 {
		t.Errorf("Peers() = %d, want 0", got)
	}
}
