package filesystem

import "os"

// Options defines options for Filesystem-backed storage.
type Options struct {
	Path string `json:"path"`

	FileMode os.FileMode `json:"fileMode,omitempty"`
	DirMode  os.FileMode `json:"dirMode,omitempty"`
}

func (fso *Options) fileMode() os.FileMode {
	if fso.FileMode == 0 {
		return fsDefaultFileMode
	}

	return fso.FileMode
}

func (fso *Options) dirMode() os.FileMode {
	if fso.DirMode == 0 {
		return fsDefaultDirMode
	}

	return fso.DirMode
}
