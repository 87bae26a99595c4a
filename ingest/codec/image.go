package codec

import (
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"
)

// ImageMessage is the validated form of an image payload with the binary
// content already decoded.
type ImageMessage struct {
	ImageID   string
	MessageID string
	Data      []byte
	Metadata  json.RawMessage
}

type imageEnvelope struct {
	ImageID   string          `json:"imageId"`
	MessageID string          `json:"messageId"`
	ImageData string          `json:"imageData"`
	Metadata  json.RawMessage `json:"metadata"`
}

// DecodeImage validates an image payload. Both imageId and imageData are
// required; absence of either or undecodable base64 content is a hard
// failure. On failure the returned message still carries the messageId when
// one could be extracted, so the caller can emit an error acknowledgment.
func DecodeImage(payload []byte) (ImageMessage, error) {
	var envelope imageEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ImageMessage{}, fmt.Errorf("invalid json: %s", err)
	}

	msg := ImageMessage{
		ImageID:   envelope.ImageID,
		MessageID: envelope.MessageID,
		Metadata:  envelope.Metadata,
	}

	if len(envelope.ImageID) == 0 {
		return msg, fmt.Errorf("missing required field 'imageId'")
	}
	if len(envelope.ImageData) == 0 {
		return msg, fmt.Errorf("missing required field 'imageData'")
	}

	data, err := base64.StdEncoding.DecodeString(envelope.ImageData)
	if err != nil {
		return msg, fmt.Errorf("imageData is not valid base64: %s", err)
	}
	msg.Data = data
	return msg, nil
}
