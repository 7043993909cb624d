package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdLocker implements Locker on an etcd keyspace. The record is a
// plain key (no lease) so an interrupted run leaves the lock in place
// until an operator force-releases it, matching the DynamoDB backend.
type EtcdLocker struct {
	Client         *clientv3.Client
	Prefix         string
	StaleThreshold time.Duration
}

// NewEtcdLocker creates a locker storing records under prefix.
func NewEtcdLocker(client *clientv3.Client, prefix string) *EtcdLocker {
	if prefix == "" {
		prefix = "/stackpilot/locks/"
	}
	return &EtcdLocker{Client: client, Prefix: prefix}
}

func (e *EtcdLocker) path(key string) string { return e.Prefix + key }

// Acquire implements Locker via a create-if-absent transaction.
func (e *EtcdLocker) Acquire(ctx context.Context, key string, info Info) (*Handle, error) {
	info.ID = newID()
	if info.Created.IsZero() {
		info.Created = time.Now()
	}
	value, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal lock record: %w", err)
	}

	path := e.path(key)
	resp, err := e.Client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(path), "=", 0)).
		Then(clientv3.OpPut(path, string(value))).
		Else(clientv3.OpGet(path)).
		Commit()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if !resp.Succeeded {
		held := Info{Holder: "unknown"}
		if len(resp.Responses) > 0 {
			if kvs := resp.Responses[0].GetResponseRange().Kvs; len(kvs) > 0 {
				_ = json.Unmarshal(kvs[0].Value, &held)
			}
		}
		return nil, &HeldError{Info: held, Stale: IsStale(held, e.StaleThreshold)}
	}
	return &Handle{Key: key, Info: info}, nil
}

// Release implements Locker.
func (e *EtcdLocker) Release(ctx context.Context, h *Handle) error {
	_, err := e.ForceRelease(ctx, h.Key, h.Info.ID)
	return err
}

// Inspect implements Locker.
func (e *EtcdLocker) Inspect(ctx context.Context, key string) (*Info, error) {
	resp, err := e.Client.Get(ctx, e.path(key))
	if err != nil {
		return nil, fmt.Errorf("inspect lock %q: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	var info Info
	if err := json.Unmarshal(resp.Kvs[0].Value, &info); err != nil {
		return nil, fmt.Errorf("decode lock record %q: %w", key, err)
	}
	return &info, nil
}

// ForceRelease implements Locker.
func (e *EtcdLocker) ForceRelease(ctx context.Context, key, lockID string) (*Info, error) {
	held, err := e.Inspect(ctx, key)
	if err != nil {
		return nil, err
	}
	if held == nil {
		return nil, ErrNotLocked
	}
	if held.ID != lockID {
		return nil, ErrLockIDMismatch
	}
	if _, err := e.Client.Delete(ctx, e.path(key)); err != nil {
		return nil, fmt.Errorf("release lock %q: %w", key, err)
	}
	return held, nil
}
