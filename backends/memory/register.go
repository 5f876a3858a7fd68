package memory

import (
	"github.com/fluxgate/fluxgate/backends"
)

func init() {
	backends.Register("memory", func(config any) (backends.Backend, error) {
		if config != nil {
			return nil, backends.ErrInvalidConfig
		}
		return New(), nil
	})
}
