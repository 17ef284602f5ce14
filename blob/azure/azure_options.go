package azure

// Options defines options for Azure blob storage storage.
type Options struct {
	// Container is the name of the azure storage container where data is stored.
	Container string `json:"container"`

	// Prefix specifies additional string to prepend to all objects.
	Prefix string `json:"prefix,omitempty"`

	// Storage account name
	StorageAccount string `json:"storageAccount,omitempty"`

	// Storage account access key
	StorageKey string `json:"storageKey,omitempty"`

	// Alternatively provide SAS Token
	SASToken string `json:"sasToken,omitempty"`

	// the tenant-ID/client-ID/client-Secret of the service principal
	TenantID     string `json:"tenantID,omitempty"`
	ClientID     string `json:"clientID,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`

	StorageDomain string `json:"storageDomain,omitempty"`

	// DoNotUseTLS connects to Azure storage over HTTP instead of HTTPS
	DoNotUseTLS bool `json:"doNotUseTLS,omitempty"`
}
