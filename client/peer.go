package client

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// SignalPayload is the envelope this client exchanges over the relay's opaque
// signal channel: either a session description or a trickled ICE candidate.
type SignalPayload struct {
	Type      string                   `json:"type,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// NewAPI builds a pion API with its logging routed at the given level.
func NewAPI(level logging.LogLevel) *webrtc.API {
	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = level

	settings := webrtc.SettingEngine{LoggerFactory: factory}
	return webrtc.NewAPI(webrtc.WithSettingEngine(settings))
}

// Peer drives one PeerConnection's negotiation through the relay. The zero
// value is not usable; construct with NewPeer.
type Peer struct {
	pc    *webrtc.PeerConnection
	queue candidateQueue
	log   *slog.Logger

	// sendSignal forwards a payload to the remote side, via SignalRoom or
	// SignalTo depending on the room kind.
	sendSignal func(json.RawMessage) error
}

func NewPeer(api *webrtc.API, cfg webrtc.Configuration, log *slog.Logger, sendSignal func(json.RawMessage) error) (*Peer, error) {
	if log == nil {
		log = slog.Default()
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{pc: pc, log: log, sendSignal: sendSignal}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		if err := p.signal(SignalPayload{Candidate: &init}); err != nil {
			log.Warn("failed to trickle candidate", "err", err)
		}
	})

	return p, nil
}

// PC exposes the underlying PeerConnection for data channel setup.
func (p *Peer) PC() *webrtc.PeerConnection {
	return p.pc
}

// SendOffer creates the local offer and forwards it through the relay. The
// initiating side calls this when the relay reports the peer has joined.
func (p *Peer) SendOffer() error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return p.signal(SignalPayload{Type: offer.Type.String(), SDP: offer.SDP})
}

// HandleSignal applies a payload received from the relay: an offer is
// answered, an answer completes negotiation, and candidates are queued until
// the remote description is in place.
func (p *Peer) HandleSignal(raw json.RawMessage) error {
	var payload SignalPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode signal payload: %w", err)
	}

	switch {
	case payload.Candidate != nil:
		if p.queue.Add(*payload.Candidate) {
			return p.pc.AddICECandidate(*payload.Candidate)
		}
		return nil

	case payload.Type == webrtc.SDPTypeOffer.String():
		desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: payload.SDP}
		if err := p.pc.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("set remote offer: %w", err)
		}
		if err := p.drainCandidates(); err != nil {
			return err
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		return p.signal(SignalPayload{Type: answer.Type.String(), SDP: answer.SDP})

	case payload.Type == webrtc.SDPTypeAnswer.String():
		desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: payload.SDP}
		if err := p.pc.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		return p.drainCandidates()

	default:
		return fmt.Errorf("unexpected signal payload type %q", payload.Type)
	}
}

func (p *Peer) Close() error {
	return p.pc.Close()
}

func (p *Peer) drainCandidates() error {
	for _, c := range p.queue.MarkReady() {
		if err := p.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add queued candidate: %w", err)
		}
	}
	return nil
}

func (p *Peer) signal(payload SignalPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.sendSignal(raw)
}
