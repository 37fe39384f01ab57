package storage

// Bucket names for bbolt database
const (
	ServersBucket = "servers"
	MetaBucket    = "meta"
)

// Meta keys
const (
	SchemaVersionKey = "schema"
)

// CurrentSchemaVersion is written on every open
const CurrentSchemaVersion = 1
