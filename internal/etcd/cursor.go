package etcd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// ErrCursor marks failures reading or advancing the etcd high-water mark
var ErrCursor = errors.New("etcd cursor failure")

const casAttempts = 3

// Cursor keeps the high-water mark under <prefix>/maxitem
type Cursor struct {
	kv  clientv3.KV
	key string
}

// NewCursor creates a cursor in the key space of c
func NewCursor(c *EtcdClient) *Cursor {
	return &Cursor{
		kv:  c.Client(),
		key: CursorKey(c.Prefix()),
	}
}

// CursorKey returns the key the high-water mark is stored under
func CursorKey(prefix string) string {
	return strings.TrimRight(prefix, "/") + "/maxitem"
}

// ReadHighWaterMark returns the stored mark, 0 if the key does not exist
func (c *Cursor) ReadHighWaterMark(ctx context.Context) (int64, error) {
	value, _, err := c.read(ctx)
	return value, err
}

// WriteHighWaterMark advances the mark with a compare-and-swap, lower values are ignored
func (c *Cursor) WriteHighWaterMark(ctx context.Context, maxID int64) error {
	for attempt := 1; attempt <= casAttempts; attempt++ {
		current, modRevision, err := c.read(ctx)
		if err != nil {
			return err
		}
		if maxID <= current {
			return nil
		}

		cmp := clientv3.Compare(clientv3.ModRevision(c.key), "=", modRevision)
		resp, err := c.kv.Txn(ctx).
			If(cmp).
			Then(clientv3.OpPut(c.key, strconv.FormatInt(maxID, 10))).
			Commit()
		if err != nil {
			return fmt.Errorf("%w: failed to write %s: %w", ErrCursor, c.key, err)
		}
		if resp.Succeeded {
			return nil
		}
		logrus.WithFields(logrus.Fields{
			"component": "etcd",
			"key":       c.key,
			"attempt":   attempt,
		}).Warn("High-water mark changed concurrently, retrying")
	}
	return fmt.Errorf("%w: %s kept changing during update", ErrCursor, c.key)
}

// read returns the stored value and its mod revision, 0/0 for a missing key
func (c *Cursor) read(ctx context.Context) (int64, int64, error) {
	resp, err := c.kv.Get(ctx, c.key)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: failed to read %s: %w", ErrCursor, c.key, err)
	}
	if len(resp.Kvs) == 0 {
		return 0, 0, nil
	}
	kv := resp.Kvs[0]
	value, err := strconv.ParseInt(string(kv.Value), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s holds %q: %w", ErrCursor, c.key, kv.Value, err)
	}
	return value, kv.ModRevision, nil
}
