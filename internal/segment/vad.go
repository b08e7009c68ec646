package segment

import (
	"encoding/binary"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// voiceDetector vetoes silence cuts when the WebRTC VAD still hears speech
// in a frame the energy gate considered quiet.
type voiceDetector struct {
	vad  *webrtcvad.VAD
	rate int
}

var vadRates = map[int]bool{8000: true, 16000: true, 32000: true, 48000: true}

// newVAD returns nil when the VAD is disabled or the rate is unsupported;
// callers treat nil as "energy gate only".
func (s *Segmenter) newVAD(rate int) *voiceDetector {
	if !s.cfg.Segment.VADEnabled || !vadRates[rate] {
		return nil
	}
	vad, err := webrtcvad.New()
	if err != nil {
		s.logger.Warnf("webrtc vad unavailable: %v", err)
		return nil
	}
	if err := vad.SetMode(s.cfg.Segment.VADAggressive); err != nil {
		s.logger.Warnf("webrtc vad mode %d rejected: %v", s.cfg.Segment.VADAggressive, err)
		return nil
	}
	return &voiceDetector{vad: vad, rate: rate}
}

func (d *voiceDetector) IsVoice(samples []int) (bool, error) {
	frame := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(int16(v)))
	}
	return d.vad.Process(d.rate, frame)
}
