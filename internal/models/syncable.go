package models

// Syncable is implemented by every entity pushed to and fetched from the record store.
// An entity is synced iff its remote identity is set; there is no separate dirty flag.
type Syncable interface {
	RecordType() RecordType
	RemoteIdentity() string
	SetRemoteIdentity(id string)
	IsSynced() bool
}

// Searchable - сущность, участвующая в поиске
type Searchable interface {
	// Matches reports whether the entity matches a lowercase search term.
	Matches(term string) bool
}

var (
	_ Syncable   = (*Post)(nil)
	_ Syncable   = (*Comment)(nil)
	_ Searchable = (*Post)(nil)
	_ Searchable = (*Comment)(nil)
)
