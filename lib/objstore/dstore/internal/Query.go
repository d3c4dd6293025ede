package internal

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet    QueryType = iota // Read the content of an object.
	QueryTExists                  // Check if an object is stored.
	QueryTInfo                    // Retrieve statistics about the object table.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTExists:
		return "Exists"
	case QueryTInfo:
		return "Info"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead
type Query struct {
	Type QueryType // The type of Query to perform.
	Key  string    // The object key (empty for QueryTInfo).
}

// QueryResult is the result of a QueryTGet operation.
// QueryTExists returns a bool, QueryTInfo a TableInfo.
type QueryResult struct {
	Ok    bool
	Value []byte
}

// TableInfo describes the object table held by one replica.
type TableInfo struct {
	Objects      uint64
	Bytes        uint64
	AppliedIndex uint64
}
