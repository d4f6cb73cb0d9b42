package retriever

import (
	"fmt"

	"github.com/raglane/raglane/pkg/store"
)

// ErrBuildInProgress is returned when a build cannot claim the retriever
// because another build holds it.
type ErrBuildInProgress struct {
	RetrieverID string
}

func (e *ErrBuildInProgress) Error() string {
	return fmt.Sprintf("retriever %s is already building", e.RetrieverID)
}

// ErrRetrieverDeprecated is returned when a build targets a retired
// retriever. Deprecation is terminal; create a new retriever instead.
type ErrRetrieverDeprecated struct {
	RetrieverID string
}

func (e *ErrRetrieverDeprecated) Error() string {
	return fmt.Sprintf("retriever %s is deprecated", e.RetrieverID)
}

// ErrNotActive is returned when a query reaches a retriever that is not
// serving.
type ErrNotActive struct {
	RetrieverID string
	Status      store.RetrieverStatus
}

func (e *ErrNotActive) Error() string {
	return fmt.Sprintf("retriever %s is %s, not active", e.RetrieverID, e.Status)
}

// ErrNoChunks is returned when a build produced zero successful chunk
// results. Activating an empty index would silently serve nothing, so the
// build fails instead.
type ErrNoChunks struct {
	RetrieverID string
}

func (e *ErrNoChunks) Error() string {
	return fmt.Sprintf("retriever %s build produced no successful chunks", e.RetrieverID)
}
