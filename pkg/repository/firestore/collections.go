package firestore

// Collection names. The migrate command builds indexes against these.
const (
	CollectionOwners   = "owners"
	CollectionMemories = "memories"
	CollectionHistory  = "history"
	CollectionUsage    = "usage"
)
