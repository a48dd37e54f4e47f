package search

import (
	"errors"

	"github.com/ravenoak/autoresearch/core"
)

var errWeightsNegative = errors.New("search: ranking weights must be non-negative")

// errBackendUnavailable is used by tests to simulate a backend outage;
// ExternalLookup logs and skips a failing backend rather than failing the
// whole lookup.
var errBackendUnavailable = errors.New("search: backend unavailable")

// errWeightsExceedOne reuses the shared taxonomy sentinel (spec §7) so
// callers can errors.Is against the same error whether it surfaces from
// config validation or from SearchEngine itself.
var errWeightsExceedOne = core.ErrWeightsExceedOne
