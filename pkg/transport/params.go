package transport

import "github.com/google/go-querystring/query"

// Params is the typed form of the connection query parameters of §6,
// encoded with github.com/google/go-querystring instead of hand-building
// a url.Values — the teacher's go.mod already carries this dependency
// (unexercised by the teacher itself; see DESIGN.md).
type Params struct {
	TestHooks                   string `url:"testhooks,omitempty"`
	DeploymentID                string `url:"cid,omitempty"`
	Format                      string `url:"format,omitempty"`
	Language                    string `url:"language,omitempty"`
	From                        string `url:"from,omitempty"`
	To                          string `url:"to,omitempty"`
	Profanity                   string `url:"profanity,omitempty"`
	StoreAudio                  bool   `url:"storeAudio,omitempty"`
	WordLevelTimestamps         bool   `url:"wordLevelTimestamps,omitempty"`
	InitialSilenceTimeoutMs     int    `url:"initialSilenceTimeoutMs,omitempty"`
	EndSilenceTimeoutMs         int    `url:"endSilenceTimeoutMs,omitempty"`
	StableIntermediateThreshold string `url:"stableIntermediateThreshold,omitempty"`
	StableTranslation           bool   `url:"stableTranslation,omitempty"`
}

// Encode renders the parameters as a URL query string (without the
// leading "?").
func (p Params) Encode() (string, error) {
	values, err := query.Values(p)
	if err != nil {
		return "", err
	}
	return values.Encode(), nil
}
