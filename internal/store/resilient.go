package store

import (
	"context"

	"github.com/nextlevelbuilder/inboxrelay/internal/retry"
)

// ResilientProcessedStore wraps a ProcessedStore with bounded retry and a
// circuit breaker so a failing backend is neither given up on after one
// transient error nor hammered while it is down.
type ResilientProcessedStore struct {
	inner    ProcessedStore
	retryCfg retry.Config
	breaker  *retry.Breaker
}

func NewResilientProcessedStore(inner ProcessedStore) *ResilientProcessedStore {
	return &ResilientProcessedStore{
		inner:    inner,
		retryCfg: retry.DefaultConfig(),
		breaker:  retry.NewBreaker(),
	}
}

func (s *ResilientProcessedStore) MarkProcessed(ctx context.Context, key ProcessedKey, metadata map[string]string) error {
	return s.breaker.Call(func() error {
		_, err := retry.Do(ctx, s.retryCfg, func() (struct{}, error) {
			return struct{}{}, s.inner.MarkProcessed(ctx, key, metadata)
		})
		return err
	})
}

func (s *ResilientProcessedStore) ExistingIDs(ctx context.Context, site, objectType string, ids []string) (map[string]bool, error) {
	var out map[string]bool
	err := s.breaker.Call(func() error {
		var err error
		out, err = retry.Do(ctx, s.retryCfg, func() (map[string]bool, error) {
			return s.inner.ExistingIDs(ctx, site, objectType, ids)
		})
		return err
	})
	return out, err
}

func (s *ResilientProcessedStore) Get(ctx context.Context, key ProcessedKey) (*ProcessedRecord, error) {
	var rec *ProcessedRecord
	err := s.breaker.Call(func() error {
		var err error
		rec, err = retry.Do(ctx, s.retryCfg, func() (*ProcessedRecord, error) {
			return s.inner.Get(ctx, key)
		})
		return err
	})
	return rec, err
}
