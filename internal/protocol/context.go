package protocol

import "encoding/json"

// AudioDeviceInfo describes the audio source attached to the session,
// installed into speech.context (and, when telemetry is enabled,
// speech.config) by SessionController.recognize (§4.7).
type AudioDeviceInfo struct {
	Type string `json:"type"` // "Microphones", "File", "Stream"
	Name string `json:"name,omitempty"`
	// Replay is true when the attached source is wrapped in a
	// ReplayableAudioSource (§4.5).
	Replay bool `json:"-"`
}

// GrammarReference names a server-side grammar to activate for this turn.
type GrammarReference struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// PhraseGroup is a named list of phrase hints biasing recognition.
type PhraseGroup struct {
	Type  string   `json:"Type"`
	Name  string   `json:"Name,omitempty"`
	Items []string `json:"Items,omitempty"`
}

// DynamicGrammar is the "dgi" (dynamic grammar information) block of
// speech.context: grammars, phrase hints, and reference grammars (§4.2,
// component C3).
type DynamicGrammar struct {
	ReferenceGrammars []string           `json:"ReferenceGrammars,omitempty"`
	Groups            []PhraseGroup      `json:"Groups,omitempty"`
	Grammars          []GrammarReference `json:"Grammars,omitempty"`
}

func (d *DynamicGrammar) isEmpty() bool {
	return d == nil || (len(d.ReferenceGrammars) == 0 && len(d.Groups) == 0 && len(d.Grammars) == 0)
}

// DynamicGrammarBuilder accumulates phrase hints, reference grammars, and
// grammar ids across a session and builds the DynamicGrammar block for the
// next turn's speech.context. It is not reset between turns: hints
// registered once apply to every subsequent turn in a continuous
// recognition, matching how a caller typically configures phrase lists
// once up front.
type DynamicGrammarBuilder struct {
	referenceGrammars []string
	phrases           []string
	grammars          []GrammarReference
}

// NewDynamicGrammarBuilder returns an empty builder.
func NewDynamicGrammarBuilder() *DynamicGrammarBuilder {
	return &DynamicGrammarBuilder{}
}

// AddPhrase registers a phrase hint to bias recognition toward.
func (b *DynamicGrammarBuilder) AddPhrase(text string) *DynamicGrammarBuilder {
	if text != "" {
		b.phrases = append(b.phrases, text)
	}
	return b
}

// AddReferenceGrammar registers a server-side grammar id by reference.
func (b *DynamicGrammarBuilder) AddReferenceGrammar(id string) *DynamicGrammarBuilder {
	if id != "" {
		b.referenceGrammars = append(b.referenceGrammars, id)
	}
	return b
}

// AddGrammar registers a full grammar reference (id + type).
func (b *DynamicGrammarBuilder) AddGrammar(g GrammarReference) *DynamicGrammarBuilder {
	b.grammars = append(b.grammars, g)
	return b
}

// Build returns the DynamicGrammar block for the current accumulated
// state, or nil if nothing has been registered (omitted from the payload).
func (b *DynamicGrammarBuilder) Build() *DynamicGrammar {
	if b == nil || (len(b.phrases) == 0 && len(b.referenceGrammars) == 0 && len(b.grammars) == 0) {
		return nil
	}
	dg := &DynamicGrammar{
		ReferenceGrammars: b.referenceGrammars,
		Grammars:          b.grammars,
	}
	if len(b.phrases) > 0 {
		dg.Groups = []PhraseGroup{{Type: "Generic", Items: b.phrases}}
	}
	return dg
}

// speechContextAudio wraps the device info the way the context payload
// nests it: {context: {audio: {source: {...}}}}.
type speechContextAudio struct {
	Source AudioDeviceInfo `json:"source"`
}

type speechContextBody struct {
	DGI   *DynamicGrammar     `json:"dgi,omitempty"`
	Audio *speechContextAudio `json:"audio,omitempty"`
}

type speechContextPayload struct {
	Context speechContextBody `json:"context"`
}

// BuildSpeechContext serializes the speech.context body sent once per
// turn (§4.2, §4.7): grammars/phrase hints from the builder plus the
// attached audio device info.
func BuildSpeechContext(builder *DynamicGrammarBuilder, device AudioDeviceInfo) ([]byte, error) {
	body := speechContextBody{
		Audio: &speechContextAudio{Source: device},
	}
	if builder != nil {
		body.DGI = builder.Build()
	}
	return json.Marshal(speechContextPayload{Context: body})
}
