package controllers

import "github.com/rzbill/keywatch/internal/expiry"

// watchReq represents a request to store a value with a TTL.
type watchReq struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
	TTLMs int64  `json:"ttlMs"`
}

type watchResp struct {
	Key     string `json:"key"`
	Indexed bool   `json:"indexed"`
}

type pendingResp struct {
	Index   string         `json:"index"`
	Entries []expiry.Entry `json:"entries"`
}
