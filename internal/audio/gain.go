package audio

// edgeFadeSamples is the per-channel length of the fade applied at the head
// and tail of every voice to avoid clicks on hard PCM boundaries (~5ms).
const edgeFadeSamples = 240

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// voiceGain returns the gain for sample position pos within a voice of total
// samples. Full gain everywhere except a smoothstep ramp over the first and
// last edgeFadeSamples per channel.
func voiceGain(pos, total int) float64 {
	fade := edgeFadeSamples * Channels
	if total < 2*fade {
		fade = total / 2
	}
	if fade == 0 {
		return 1
	}
	if pos < fade {
		return Smoothstep(float64(pos) / float64(fade))
	}
	if rem := total - pos; rem < fade {
		return Smoothstep(float64(rem) / float64(fade))
	}
	return 1
}
