package orders

// Partition key = user id, so every event of one user keeps its order.
func PartitionKey(userID string) []byte { return []byte(userID) }
