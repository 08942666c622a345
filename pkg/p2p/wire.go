package p2p

import (
	"encoding/json"
	"fmt"
)

// TickWire is the gossip payload for one trade or swap
//
//	{"instrument":"EDAI-1","price":105,"volume":6,"seq":42,"ts":1700000000000}
type TickWire struct {
	Instrument string `json:"instrument"`
	Price      int64  `json:"price"`
	Volume     int64  `json:"volume"`
	Seq        uint64 `json:"seq"` // per-publisher sequence
	Timestamp  int64  `json:"ts"`  // unix millis at the publisher
}

func encodeTick(t TickWire) ([]byte, error) {
	return json.Marshal(t)
}

func decodeTick(b []byte) (TickWire, error) {
	var t TickWire
	if err := json.Unmarshal(b, &t); err != nil {
		return TickWire{}, fmt.Errorf("decode tick: %w", err)
	}
	if t.Instrument == "" {
		return TickWire{}, fmt.Errorf("decode tick: missing instrument")
	}
	if t.Price < 0 || t.Volume < 0 {
		return TickWire{}, fmt.Errorf("decode tick: negative price or volume")
	}
	return t, nil
}
