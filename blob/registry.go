package blob

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// CreateStorageFunc is a function that returns Storage with provided options.
type CreateStorageFunc func(ctx context.Context, options interface{}) (Storage, error)

//nolint:gochecknoglobals
var factories = map[string]*storageFactory{}

type storageFactory struct {
	defaultConfigFunc func() interface{}
	createStorageFunc CreateStorageFunc
}

// AddSupportedStorage registers factory function to create storage with a given type name.
func AddSupportedStorage[T any](
	storageType string,
	defaultConfig T,
	createStorageFunc func(ctx context.Context, options *T) (Storage, error),
) {
	f := &storageFactory{
		defaultConfigFunc: func() interface{} {
			c := defaultConfig
			return &c
		},
		createStorageFunc: func(ctx context.Context, options interface{}) (Storage, error) {
			//nolint:forcetypeassert
			return createStorageFunc(ctx, options.(*T))
		},
	}

	factories[storageType] = f
}

// SupportedTypes returns the sorted names of all registered storage types.
func SupportedTypes() []string {
	var res []string

	for k := range factories {
		res = append(res, k)
	}

	sort.Strings(res)

	return res
}

// NewStorage creates new storage based on ConnectionInfo.
// The storage type must be previously registered using AddSupportedStorage.
func NewStorage(ctx context.Context, cfg ConnectionInfo) (Storage, error) {
	if factory, ok := factories[cfg.Type]; ok {
		return factory.createStorageFunc(ctx, cfg.Config)
	}

	return nil, errors.Errorf("unknown storage type: %s, supported: %v", cfg.Type, SupportedTypes())
}

// ConnectionInfo represents JSON-serializable configuration of a blob storage.
type ConnectionInfo struct {
	Type   string
	Config interface{}
}

// UnmarshalJSON parses the JSON-encoded data into ConnectionInfo.
func (c *ConnectionInfo) UnmarshalJSON(b []byte) error {
	raw := struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"config"`
	}{}

	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.Wrap(err, "error unmarshaling connection info JSON")
	}

	f := factories[raw.Type]
	if f == nil {
		return errors.Errorf("storage type '%v' not registered", raw.Type)
	}

	c.Type = raw.Type
	c.Config = f.defaultConfigFunc()

	if err := json.Unmarshal(raw.Data, c.Config); err != nil {
		return errors.Wrap(err, "unable to unmarshal config")
	}

	return nil
}

// MarshalJSON returns JSON-encoded storage configuration.
func (c ConnectionInfo) MarshalJSON() ([]byte, error) {
	//nolint:wrapcheck
	return json.Marshal(struct {
		Type string      `json:"type"`
		Data interface{} `json:"config"`
	}{
		Type: c.Type,
		Data: c.Config,
	})
}
