package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"
)

var (
	// ErrInvalidIdentifier is returned before any storage access when a
	// dataset id does not match DatasetIDPattern.
	ErrInvalidIdentifier = errors.New("invalid dataset identifier")

	// ErrNotFound is returned when a well-formed dataset id has no storage unit.
	ErrNotFound = errors.New("dataset not found")
)

// DatasetIDPrefix is the fixed prefix of every dataset identifier.
const DatasetIDPrefix = "wardrive_"

// DatasetIDPattern is the allow-list every identifier must match.
var DatasetIDPattern = regexp.MustCompile(`^wardrive_\d+$`)

// DatasetID names one ingested upload. Only values that pass Validate may
// reach a storage backend.
type DatasetID string

// ParseDatasetID validates raw and returns it as a DatasetID.
func ParseDatasetID(raw string) (DatasetID, error) {
	id := DatasetID(raw)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate checks the identifier against DatasetIDPattern.
func (id DatasetID) Validate() error {
	if len(id) > 64 || !DatasetIDPattern.MatchString(string(id)) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, string(id))
	}
	return nil
}

func (id DatasetID) String() string { return string(id) }

// IDGenerator hands out dataset ids derived from the wall clock in
// milliseconds. Ids are strictly increasing within a process even when the
// clock stalls or steps backwards.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDGenerator returns a generator backed by time.Now.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns a fresh identifier.
func (g *IDGenerator) Next() DatasetID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return DatasetID(DatasetIDPrefix + strconv.FormatInt(ms, 10))
}

// CatalogEntry is one row of the append-only dataset index.
type CatalogEntry struct {
	DatasetID     DatasetID `json:"dataset_id"`
	Filename      string    `json:"filename"`
	UploadTime    time.Time `json:"upload_time"`
	FormatVersion string    `json:"format_version,omitempty"`
	Accepted      int       `json:"accepted"`
	Malformed     int       `json:"malformed"`
	Skipped       int       `json:"skipped"`
}

// Stats summarises duplicate coordinates within a dataset using exact
// coordinate equality.
type Stats struct {
	TotalPoints          int64 `json:"total_points"`
	UniqueLocations      int64 `json:"unique_locations"`
	DuplicateLocations   int64 `json:"duplicate_locations"`
	MaxPointsPerLocation int64 `json:"max_points_per_location"`
}
