package kvpool

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Tx records (command, args...) tuples for atomic replay on one connection.
// Commands are queued verbatim; nothing touches the wire until
// ExecuteTransaction replays them inside MULTI/EXEC.
type Tx struct {
	cmds [][]interface{}
}

func NewTx() *Tx {
	return &Tx{}
}

// Command appends one command. The first element is the command name, the
// rest its arguments, exactly as the Redis protocol takes them.
func (t *Tx) Command(args ...interface{}) *Tx {
	t.cmds = append(t.cmds, args)
	return t
}

// Len reports the number of queued commands.
func (t *Tx) Len() int { return len(t.cmds) }

// ExecuteTransaction acquires one connection, replays the recorded commands
// inside MULTI/EXEC, and releases the connection even on failure. The
// returned cmders are positional: cmders[i] answers the i-th recorded
// command.
func (p *Pool) ExecuteTransaction(ctx context.Context, tx *Tx) ([]redis.Cmder, error) {
	c, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	cmders, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, args := range tx.cmds {
			pipe.Do(ctx, args...)
		}
		return nil
	})
	p.release(c, isConnFailure(err))
	return cmders, err
}
