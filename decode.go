package xrelay

import "encoding/json"

// DecodeFrame parses a frame produced by JSONCodec. Clients that consume
// text frames use the payload directly.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return f, err
	}
	return f, nil
}
