package metrics

import "fmt"

// Tag creates a formatted DataDog tag string in "key:value" format.
func Tag(key, value string) string {
	return fmt.Sprintf("%s:%s", key, value)
}

// LayerTag creates a cache layer tag (local/remote).
func LayerTag(layer string) string {
	return Tag("layer", layer)
}

// PartitionTag creates a local cache partition tag.
func PartitionTag(partition string) string {
	return Tag("partition", partition)
}

// TierTag creates a permission tier tag.
func TierTag(tier string) string {
	return Tag("tier", tier)
}

// OperationTag creates an operation tag.
func OperationTag(op string) string {
	return Tag("operation", op)
}

// StatusTag creates a status tag (hit/miss/error).
func StatusTag(status string) string {
	return Tag("status", status)
}

// ReasonTag creates an invalidation reason tag.
func ReasonTag(reason string) string {
	return Tag("reason", reason)
}
