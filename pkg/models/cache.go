package models

// CacheStats describes the contents of the response cache. Hit rates are
// exported as metrics instead.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Expired int64 `json:"expired"`
	Bytes   int64 `json:"bytes"`
}
