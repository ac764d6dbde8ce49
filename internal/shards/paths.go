package shards

import (
	"strconv"

	"cloutdash/internal/docstore"
)

const (
	usersCollection    = "users"
	datesCollection    = "dates"
	itemsCollection    = "items"
	metaCollection     = "meta"
	metadataDocID      = "bounties"
	legacyFlatColl     = "receipts"
	legacyBlobColl     = "legacy"
	legacyBlobDocID    = "receipts"
	ProfilesCollection = "profiles"
	AccountsCollection = "accounts"
)

func UserRoot(userID string) string {
	return docstore.Join(usersCollection, userID)
}

func DatesPath(userID string) string {
	return docstore.Join(UserRoot(userID), datesCollection)
}

func BucketPath(userID, shardID string) string {
	return docstore.Join(DatesPath(userID), shardID)
}

func ItemsPath(userID, shardID string) string {
	return docstore.Join(BucketPath(userID, shardID), itemsCollection)
}

func ItemPath(userID, shardID string, pos int) string {
	return docstore.Join(ItemsPath(userID, shardID), strconv.Itoa(pos))
}

func MetadataPath(userID string) string {
	return docstore.Join(UserRoot(userID), metaCollection, metadataDocID)
}

// LegacyFlatPath is the collection holding one document per event.
func LegacyFlatPath(userID string) string {
	return docstore.Join(UserRoot(userID), legacyFlatColl)
}

// LegacyBlobPath is the single document holding the whole event array inline.
func LegacyBlobPath(userID string) string {
	return docstore.Join(UserRoot(userID), legacyBlobColl, legacyBlobDocID)
}

func ProfilePath(userID string) string {
	return docstore.Join(ProfilesCollection, userID)
}

func AccountPath(accountKey string) string {
	return docstore.Join(AccountsCollection, accountKey)
}

// MigrationMarkerPath holds the state of an unfinished migration.
func MigrationMarkerPath(userID string) string {
	return docstore.Join(UserRoot(userID), metaCollection, "migration")
}
