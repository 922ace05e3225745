package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
)

// Cache stores answers by key. Keys embed the graph version, so entries of an
// older version are never served after a commit.
type Cache interface {
	Get(ctx context.Context, key string) (Answer, bool, error)
	Set(ctx context.Context, key string, ans Answer) error
}

func cacheKey(version int64, question string) string {
	q := strings.Join(strings.Fields(common.NormalizeValue(question)), " ")
	sum := sha256.Sum256([]byte(q))
	return fmt.Sprintf("kg:answer:%d:%s", version, hex.EncodeToString(sum[:]))
}
