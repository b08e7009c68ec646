package transcode

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

type probeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Duration   string `json:"duration"`
}

type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

func parseProbeOutput(raw []byte) (Metadata, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Metadata{}, err
	}

	md := Metadata{}
	if secs, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		md.Duration = time.Duration(secs * float64(time.Second))
	}
	if br, err := strconv.Atoi(out.Format.BitRate); err == nil {
		md.BitRate = br
	}
	for _, s := range out.Streams {
		if s.CodecType != "audio" {
			continue
		}
		if sr, err := strconv.Atoi(s.SampleRate); err == nil {
			md.SampleRate = sr
		}
		md.Channels = s.Channels
		if md.Duration == 0 {
			if secs, err := strconv.ParseFloat(s.Duration, 64); err == nil {
				md.Duration = time.Duration(secs * float64(time.Second))
			}
		}
		break
	}
	if md.Duration == 0 {
		return Metadata{}, errors.New("no duration in probe output")
	}
	return md, nil
}
