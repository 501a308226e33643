package domain

// Catalog group names.
const (
	CatalogGroupMain    = "main"
	CatalogGroupTokens  = "tokens"
	CatalogGroupAvatars = "avatars"
)

// CatalogGroups lists every group resolved on launch.
var CatalogGroups = []string{CatalogGroupMain, CatalogGroupTokens, CatalogGroupAvatars}

// CatalogEntry maps one named product group to the product identifiers of one provider.
// Entries are rebuilt on every catalog fetch.
type CatalogEntry struct {
	Identifier string
	ProductIDs []string
}

// SessionCredentials are the persisted results of authentication.
type SessionCredentials struct {
	ExternalID  string `json:"external_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}
