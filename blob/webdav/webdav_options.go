package webdav

// Options defines options for WebDAV-backed storage.
type Options struct {
	URL                                 string `json:"url"`
	Username                            string `json:"username,omitempty"`
	Password                            string `json:"password,omitempty"`
	TrustedServerCertificateFingerprint string `json:"trustedServerCertificateFingerprint,omitempty"`
}
