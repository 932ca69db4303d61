//go:build !cgo

package embeddings

import (
	"errors"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

// ErrFastEmbedNotAvailable is returned for the fastembed provider in binaries
// built without cgo.
var ErrFastEmbedNotAvailable = errors.New("fastembed: not available (binary built without cgo)")

func newFastEmbed(config.ModelConfig) (Model, error) {
	return nil, ErrFastEmbedNotAvailable
}
