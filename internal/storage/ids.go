package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IDGenerator generates ids for items stored locally
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// localIDGenerator builds "local-<unix millis><9 random chars>" ids.
type localIDGenerator struct {
	clock TimeSource
}

func (g *localIDGenerator) Generate() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("local-%d%s", g.clock.Now().UnixMilli(), suffix)
}
