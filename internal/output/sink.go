package output

import (
	logging "github.com/ipfs/go-log/v2"

	"thermal-view-go/internal/types"
)

var log = logging.Logger("output")

// Sink receives every processed frame after it has been displayed.
type Sink interface {
	Name() string
	Emit(result types.Result) error
	Close() error
}
