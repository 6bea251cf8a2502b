package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/tanay1904/Drone/pkg/log"
)

const iceGatherTimeout = 10 * time.Second

var ErrUnknownPeer = errors.New("no peer connection for drone")

// Signal is the peer signaling payload exchanged with clients. Type is
// "offer", "answer" or "candidate".
type Signal struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// Signaling keeps one peer connection per drone. Only the signaling
// envelope passes through the gateway; media negotiation is left to pion.
type Signaling struct {
	api    *webrtc.API
	config webrtc.Configuration
	log    log.Logger

	mu    sync.Mutex
	peers map[string]*webrtc.PeerConnection
}

func NewSignaling(config webrtc.Configuration, includeLoopback bool) *Signaling {
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(includeLoopback)

	return &Signaling{
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		config: config,
		log:    log.WithName("signaling"),
		peers:  make(map[string]*webrtc.PeerConnection),
	}
}

// Init starts a peer connection for droneID in the background and hands the
// complete offer to reply. A previous connection for the drone is closed.
func (s *Signaling) Init(ctx context.Context, droneID string, reply func(Signal)) {
	go func() {
		offer, pc, err := s.offer(ctx, droneID)
		if err != nil {
			s.log.Error(err, "Failed to create peer offer", "drone", droneID)
			if pc != nil {
				s.drop(droneID, pc)
			}
			return
		}
		reply(offer)
	}()
}

// offer registers a new peer connection for droneID and returns its offer.
// The connection is returned even when the offer fails.
func (s *Signaling) offer(ctx context.Context, droneID string) (Signal, *webrtc.PeerConnection, error) {
	pc, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return Signal{}, nil, fmt.Errorf("creating peer connection: %w", err)
	}
	s.replace(droneID, pc)

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.log.Info("Peer connection state changed", "drone", droneID, "state", state.String())
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			s.remove(droneID, pc)
		}
	})

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return Signal{}, pc, fmt.Errorf("adding video transceiver: %w", err)
	}
	if _, err := pc.CreateDataChannel("telemetry", nil); err != nil {
		return Signal{}, pc, fmt.Errorf("creating data channel: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return Signal{}, pc, fmt.Errorf("creating SDP offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return Signal{}, pc, fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return Signal{}, pc, fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return Signal{}, pc, ctx.Err()
	}

	return Signal{Type: "offer", SDP: pc.LocalDescription().SDP}, pc, nil
}

// Accept applies a signal received from the remote side of droneID's peer.
func (s *Signaling) Accept(droneID string, raw json.RawMessage) error {
	var sig Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return fmt.Errorf("decoding signal: %w", err)
	}

	s.mu.Lock()
	pc, ok := s.peers[droneID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownPeer, droneID)
	}

	switch {
	case sig.Type == "answer":
		return pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP})
	case sig.Candidate != nil:
		return pc.AddICECandidate(*sig.Candidate)
	default:
		return fmt.Errorf("unsupported signal type %q", sig.Type)
	}
}

// Peers returns the number of live peer connections.
func (s *Signaling) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Signaling) Close(droneID string) {
	s.mu.Lock()
	pc, ok := s.peers[droneID]
	delete(s.peers, droneID)
	s.mu.Unlock()

	if ok {
		_ = pc.Close()
	}
}

// CloseAll closes every peer connection.
func (s *Signaling) CloseAll() {
	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[string]*webrtc.PeerConnection)
	s.mu.Unlock()

	for _, pc := range peers {
		_ = pc.Close()
	}
}

func (s *Signaling) replace(droneID string, pc *webrtc.PeerConnection) {
	s.mu.Lock()
	old := s.peers[droneID]
	s.peers[droneID] = pc
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
}

// drop unregisters and closes pc. A newer connection for the drone is left alone.
func (s *Signaling) drop(droneID string, pc *webrtc.PeerConnection) {
	s.remove(droneID, pc)
	_ = pc.Close()
}

func (s *Signaling) remove(droneID string, pc *webrtc.PeerConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers[droneID] == pc {
		delete(s.peers, droneID)
	}
}
