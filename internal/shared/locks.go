package shared

import "fmt"

// ClosureStatusChannel is the Postgres NOTIFY channel carrying status changes.
const ClosureStatusChannel = "closure_queue_status"

// ClientCacheKey builds the redis key holding a client's closure hints.
func ClientCacheKey(clientID string) string {
	return fmt.Sprintf("restops:closure:client:%s", clientID)
}

// ClosureCheckKey builds the singleflight key for the authoritative check of a day.
func ClosureCheckKey(day string) string {
	return fmt.Sprintf("closure:day:%s:record", day)
}

// ClosureSummaryKey builds the singleflight key for a day summary.
func ClosureSummaryKey(day string) string {
	return fmt.Sprintf("closure:day:%s:summary", day)
}
