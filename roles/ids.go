package roles

import "github.com/google/uuid"

// Admin is the role slug granted to the bootstrap administrator.
const Admin = "admin"

// NamespaceRoleIDs is the UUID namespace used to derive stable role IDs from slugs.
//
// Role IDs are computed as UUIDv5(namespace, "role:"+slug). Slugs are treated as immutable identity,
// so every store (and every deploy) agrees on the ID of "admin" without a lookup.
var NamespaceRoleIDs = uuid.MustParse("ef5d0f45-83c6-5dbe-b15a-e017bc88ab5a")

func IDFromSlug(slug string) uuid.UUID {
	return uuid.NewSHA1(NamespaceRoleIDs, []byte("role:"+slug))
}
