package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"overdub/internal/audio"
)

// opusBitrate is the encode rate for the monitoring track. Narration is
// speech over a music bed, so this sits well above voice-only rates.
const opusBitrate = 128000

// WebRTCHandler answers SDP offers with an Opus track carrying the live
// narration mix. The track is a monitor of whatever the broadcaster is
// fanning out, so every peer hears the same pass in near real time.
type WebRTCHandler struct {
	broadcaster *Broadcaster

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]struct{}
}

// NewWebRTCHandler creates the narration monitor endpoint.
func NewWebRTCHandler(b *Broadcaster) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
		peers:       make(map[*webrtc.PeerConnection]struct{}),
	}
}

// PeerCount returns the number of connected monitor peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, track, err := h.buildPeer()
	if err != nil {
		log.Printf("Monitor peer setup failed: %v", err)
		http.Error(w, "peer setup failed", http.StatusInternalServerError)
		return
	}

	if err := negotiate(pc, offer); err != nil {
		pc.Close()
		log.Printf("Monitor peer negotiation failed: %v", err)
		http.Error(w, "negotiation failed", http.StatusBadRequest)
		return
	}

	h.addPeer(pc)
	log.Printf("Monitor peer connected (total: %d)", h.PeerCount())

	go h.pumpNarration(track)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			h.removePeer(pc)
			pc.Close()
			log.Printf("Monitor peer disconnected (remaining: %d)", h.PeerCount())
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// buildPeer creates a peer connection with the narration track attached.
func (h *WebRTCHandler) buildPeer() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"narration",
		"overdub",
	)
	if err != nil {
		pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, nil, err
	}
	return pc, track, nil
}

// negotiate runs the answer side of the SDP exchange and waits for ICE
// gathering so the returned local description is complete.
func negotiate(pc *webrtc.PeerConnection, offer webrtc.SessionDescription) error {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}
	<-gathered
	return nil
}

// pumpNarration subscribes to the broadcaster and pushes Opus-encoded
// narration frames onto the peer's track until the subscription or the
// track goes away.
func (h *WebRTCHandler) pumpNarration(track *webrtc.TrackLocalStaticSample) {
	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		log.Printf("Monitor: opus encoder error: %v", err)
		return
	}
	enc.SetBitrate(opusBitrate)

	packet := make([]byte, 4000)
	for {
		select {
		case <-listener.done:
			return
		case frame, ok := <-listener.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, packet)
			if err != nil {
				log.Printf("Monitor: opus encode error: %v", err)
				continue
			}
			sample := media.Sample{Data: packet[:n], Duration: audio.FrameDuration}
			if err := track.WriteSample(sample); err != nil {
				return
			}
		}
	}
}

func (h *WebRTCHandler) addPeer(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[pc] = struct{}{}
}

func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, pc)
}
