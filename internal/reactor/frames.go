package reactor

// Frame kind discriminators used on the inbound media WebSocket.
const (
	kindAudioMetadata = "AudioMetadata"
	kindAudioData     = "AudioData"
	kindDtmfData      = "DtmfData"
)

// rawFrame tolerates both the documented field name and the capitalized
// variant some ACS payloads use in practice.
type rawFrame struct {
	Kind string `json:"kind"`

	AudioMetadataLower *audioMetadataPayload `json:"audioMetadata"`
	AudioMetadataUpper *audioMetadataPayload `json:"AudioMetadata"`

	AudioDataLower *audioDataPayload `json:"audioData"`
	AudioDataUpper *audioDataPayload `json:"AudioData"`

	DtmfDataLower *dtmfDataPayload `json:"dtmfData"`
	DtmfDataUpper *dtmfDataPayload `json:"DtmfData"`
}

type audioMetadataPayload struct {
	SubscriptionID string `json:"subscriptionId"`
	Encoding       string `json:"encoding"`
	SampleRate     int    `json:"sampleRate"`
	Channels       int    `json:"channels"`
}

type audioDataPayload struct {
	Data   string `json:"data"`
	Silent *bool  `json:"silent"`
}

type dtmfDataPayload struct {
	Data string `json:"data"`
}

func (f *rawFrame) audioData() *audioDataPayload {
	if f.AudioDataLower != nil {
		return f.AudioDataLower
	}
	return f.AudioDataUpper
}

func (f *rawFrame) dtmfData() *dtmfDataPayload {
	if f.DtmfDataLower != nil {
		return f.DtmfDataLower
	}
	return f.DtmfDataUpper
}

// isSilent defaults to true absent the field.
func (a *audioDataPayload) isSilent() bool {
	if a == nil || a.Silent == nil {
		return true
	}
	return *a.Silent
}
