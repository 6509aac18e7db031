package bladerf

// deinterleave spreads channel-interleaved samples round robin across
// the output streams: sample k lands in out[k%S] at position k/S.
// len(in) must be a multiple of len(out). The single-stream case is a
// plain copy.
func deinterleave(out [][]complex64, in []complex64) {
	nstreams := len(out)
	if nstreams == 1 {
		copy(out[0], in)
		return
	}
	per := len(in) / nstreams
	for i := 0; i < per; i++ {
		base := i * nstreams
		for s := 0; s < nstreams; s++ {
			out[s][i] = in[base+s]
		}
	}
}
