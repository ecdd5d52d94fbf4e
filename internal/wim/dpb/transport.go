package dpb

import "context"

// transport is the message-passing primitive shared by both DPB wire
// protocols: send a typed message, get back its response as a decoded map.
type transport interface {
	Call(ctx context.Context, msgType string, payload map[string]interface{}) (map[string]interface{}, error)
}
