package wire

import (
	"encoding/json"

	"github.com/avi-mesh/avi/errs"
)

// ContextAnnounce is the envelope gossiped on the reserved system topic
// __avi/sys/context whenever a peer's context changes (spec §4.1 "Context
// gossip", §6 "System gossip topics").
type ContextAnnounce struct {
	PeerID string                 `json:"peer_id"`
	Data   map[string]interface{} `json:"data"`
	Clock  map[string]uint64      `json:"clock"`
}

// MarshalContextAnnounce serialises a ContextAnnounce to JSON for
// publishing on the pubsub topic.
func MarshalContextAnnounce(a ContextAnnounce) ([]byte, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, &errs.SerializationError{Detail: "marshal context announce", Err: err}
	}
	return b, nil
}

// UnmarshalContextAnnounce deserialises a gossiped context announce.
func UnmarshalContextAnnounce(b []byte) (ContextAnnounce, error) {
	var a ContextAnnounce
	if err := json.Unmarshal(b, &a); err != nil {
		return ContextAnnounce{}, &errs.SerializationError{Detail: "unmarshal context announce", Err: err}
	}
	return a, nil
}
