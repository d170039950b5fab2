package protocol

import "encoding/json"

// AudioFormat describes the nominal rate of the captured audio, used by
// the upstream pump to compute pacing (§4.4).
type AudioFormat struct {
	AvgBytesPerSec int
	SampleRate     int
	Channels       int
	BitsPerSample  int
}

// DefaultAudioFormat is 16kHz/16-bit mono PCM, the format used throughout
// the spec's worked examples (32000 bytes/sec).
func DefaultAudioFormat() AudioFormat {
	return AudioFormat{AvgBytesPerSec: 32000, SampleRate: 16000, Channels: 1, BitsPerSample: 16}
}

// RecognizerConfig holds the tunables referenced in §6: the endpoint (used
// only in error messages from the core), the fast-lane/throttle knob, the
// audio format, the language/mode, and whether telemetry is enabled.
type RecognizerConfig struct {
	Endpoint string

	// TransmitLengthBeforeThrottleMs is SPEECH-TransmitLengthBeforThrottleMs,
	// default "5000" per §6, kept as a string property the way the host SDK
	// exposes config properties, with an int accessor for pacing math.
	TransmitLengthBeforeThrottleMs string

	Audio AudioFormat

	Language string
	// Continuous selects continuous vs. single-shot recognition (§3).
	Continuous bool

	TelemetryEnabled bool

	// SystemName/SystemVersion/SystemBuild feed speech.config's
	// context.system (§4.2); Lang is the client's own locale, distinct from
	// the recognition Language above.
	SystemName    string
	SystemVersion string
	SystemBuild   string
	Lang          string
}

// DefaultRecognizerConfig returns a config with the spec's documented
// default tunable and a reasonable demo system identity.
func DefaultRecognizerConfig() RecognizerConfig {
	return RecognizerConfig{
		TransmitLengthBeforeThrottleMs: "5000",
		Audio:                          DefaultAudioFormat(),
		Language:                       "en-US",
		TelemetryEnabled:               true,
		SystemName:                    "sttcore",
		SystemVersion:                  "1.0.0",
		Lang:                           "en-US",
	}
}

// TransmitLengthBeforeThrottle parses the configured millisecond budget,
// falling back to the spec's documented default (5000ms) on a malformed or
// empty value.
func (c RecognizerConfig) TransmitLengthBeforeThrottle() int {
	ms := parsePositiveInt(c.TransmitLengthBeforeThrottleMs, 5000)
	return ms
}

func parsePositiveInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return fallback
	}
	return n
}

// speechConfigContext is the JSON body sent on path "speech.config".
type speechConfigContext struct {
	System systemInfo `json:"system"`
	OS     *osInfo    `json:"os,omitempty"`
	Audio  *audioInfo `json:"audio,omitempty"`
}

type systemInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Build   string `json:"build,omitempty"`
	Lang    string `json:"lang,omitempty"`
}

type osInfo struct {
	Platform string `json:"platform"`
	Name     string `json:"name"`
	Version  string `json:"version"`
}

type audioInfo struct {
	Source AudioDeviceInfo `json:"source"`
}

// speechConfigPayload is the outer {context: {...}} envelope.
type speechConfigPayload struct {
	Context speechConfigContext `json:"context"`
}

// BuildSpeechConfig serializes the speech.config body (§4.2). When
// telemetry is disabled the payload is reduced to {context:{system:...}}
// per spec.md §4.2/§8 property 10 — os and audio device detail are
// themselves considered telemetry-adjacent context and dropped with it.
func BuildSpeechConfig(cfg RecognizerConfig, device AudioDeviceInfo) ([]byte, error) {
	ctx := speechConfigContext{
		System: systemInfo{
			Name:    cfg.SystemName,
			Version: cfg.SystemVersion,
			Build:   cfg.SystemBuild,
			Lang:    cfg.Lang,
		},
	}
	if cfg.TelemetryEnabled {
		ctx.OS = &osInfo{Platform: "go", Name: "sttcore", Version: cfg.SystemVersion}
		ctx.Audio = &audioInfo{Source: device}
	}
	return json.Marshal(speechConfigPayload{Context: ctx})
}
