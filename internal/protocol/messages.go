package protocol

import "encoding/json"

// OffsetBody is the body shape of speech.startdetected and
// speech.enddetected: a single audio offset in 100-ns ticks (§4.6).
type OffsetBody struct {
	Offset int64
}

// ParseOffsetBody decodes an OffsetBody, defaulting to {Offset:0} when the
// body is empty — spec.md §4.6 calls this out explicitly for
// speech.enddetected, and it is harmless to apply uniformly.
func ParseOffsetBody(body []byte) (OffsetBody, error) {
	if len(body) == 0 {
		return OffsetBody{}, nil
	}
	var o OffsetBody
	if err := json.Unmarshal(body, &o); err != nil {
		return OffsetBody{}, err
	}
	return o, nil
}

// ticksPerSecond is the number of 100-ns ticks in one second, the unit
// speech.enddetected's Offset is expressed in (§4.6).
const ticksPerSecond = 10_000_000

// TicksToBytes converts a 100-ns-tick offset into a byte offset at the
// given average bytes-per-second audio rate, for acknowledging a
// ReplayableAudioSource's buffered window against the service's reported
// progress (§4.5).
func TicksToBytes(offsetTicks int64, avgBytesPerSec int) int64 {
	return offsetTicks * int64(avgBytesPerSec) / ticksPerSecond
}
