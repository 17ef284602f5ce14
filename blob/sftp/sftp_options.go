package sftp

import (
	"os"
	"path/filepath"
)

// Options defines options for sftp-backed storage.
type Options struct {
	Path string `json:"path"`

	Host           string `json:"host"`
	Port           int    `json:"port"`
	Username       string `json:"username"`
	Password       string `json:"password,omitempty"`
	Keyfile        string `json:"keyfile,omitempty"`
	KeyData        string `json:"keyData,omitempty"`
	KnownHostsFile string `json:"knownHostsFile,omitempty"`
	KnownHostsData string `json:"knownHostsData,omitempty"`
}

func (sftpo *Options) knownHostsFile() string {
	if sftpo.KnownHostsFile == "" {
		d, _ := os.UserHomeDir()

		return filepath.Join(d, ".ssh", "known_hosts")
	}

	return sftpo.KnownHostsFile
}

func (sftpo *Options) port() int {
	if sftpo.Port == 0 {
		return defaultPort
	}

	return sftpo.Port
}
