package pairing

import (
	"context"
	"fmt"

	"github.com/roach88/braid/internal/engine"
	"github.com/roach88/braid/internal/keys"
)

// OpenFunc creates the local replica for a joined log and starts
// replicating it.
type OpenFunc func(ctx context.Context, joined JoinedLog) (*engine.Engine, error)

// Join pairs with token, opens the local replica with open and blocks
// until the replica has replayed its own admission. A lost connection
// after the Welcome does not undo the pairing; Join keeps waiting until
// ctx ends.
func (c *Candidate) Join(ctx context.Context, token string, writer *keys.KeyPair, open OpenFunc) (*engine.Engine, JoinedLog, error) {
	joined, err := c.Pair(ctx, token, writer)
	if err != nil {
		return nil, JoinedLog{}, err
	}
	eng, err := open(ctx, joined)
	if err != nil {
		return nil, joined, fmt.Errorf("open joined log: %w", err)
	}
	if err := eng.WaitWritable(ctx, joined.Writer.Public()); err != nil {
		return eng, joined, fmt.Errorf("wait for admission: %w", err)
	}
	c.logger.Info("writable", "writer", joined.Writer.Public().Short())
	return eng, joined, nil
}
