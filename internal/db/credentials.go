// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/toeirei/bandward/internal/model"
	"github.com/uptrace/bun"
)

// GetCredential returns the device's credential or ErrNotFound.
func (s *Store) GetCredential(ctx context.Context, uid string) (model.Credential, error) {
	var m CredentialModel
	if err := s.bun.NewSelect().Model(&m).Where("device_uid = ?", uid).Limit(1).Scan(ctx); err != nil {
		return model.Credential{}, MapDBError(err)
	}
	return credentialModelToModel(m), nil
}

// ReplaceCredential atomically swaps the device's credential for cred. The
// generation is taken from a per-device counter that never goes backwards,
// even across DeleteCredential, so a stale reader can never mistake a new
// credential for the one it loaded. Counter state and seen nonces are reset.
// The device must exist.
func (s *Store) ReplaceCredential(ctx context.Context, cred model.Credential) (model.Credential, error) {
	out := cred
	err := s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		gen, err := bumpGeneration(ctx, tx, cred.DeviceUID)
		if err != nil {
			return err
		}
		if err := clearCredential(ctx, tx, cred.DeviceUID); err != nil {
			return err
		}
		m := &CredentialModel{
			DeviceUID:  cred.DeviceUID,
			Secret:     cred.Secret.Bytes(),
			NonceSeed:  cred.NonceSeed.Bytes(),
			Generation: gen,
			IssuedAt:   toNanos(cred.IssuedAt),
			ExpiresAt:  toNanos(cred.ExpiresAt),
		}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return MapDBError(err)
		}
		out.Generation = gen
		return nil
	})
	if err != nil {
		return model.Credential{}, err
	}
	return out, nil
}

// DeleteCredential removes the credential, its counter state and its seen
// nonces in one transaction. It returns ErrNotFound when nothing was stored.
func (s *Store) DeleteCredential(ctx context.Context, uid string) error {
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var m CredentialModel
		if err := tx.NewSelect().Model(&m).Column("device_uid").Where("device_uid = ?", uid).Limit(1).Scan(ctx); err != nil {
			return MapDBError(err)
		}
		if _, err := bumpGeneration(ctx, tx, uid); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return clearCredential(ctx, tx, uid)
	})
}

func bumpGeneration(ctx context.Context, tx bun.Tx, uid string) (int64, error) {
	res, err := tx.NewUpdate().Model((*DeviceModel)(nil)).
		Set("credential_generation = credential_generation + 1").
		Where("uid = ?", uid).
		Exec(ctx)
	if err != nil {
		return 0, MapDBError(err)
	}
	if n, _ := affected(res); n == 0 {
		return 0, ErrNotFound
	}
	var gen int64
	if err := tx.NewSelect().Model((*DeviceModel)(nil)).Column("credential_generation").Where("uid = ?", uid).Scan(ctx, &gen); err != nil {
		return 0, MapDBError(err)
	}
	return gen, nil
}

func clearCredential(ctx context.Context, tx bun.Tx, uid string) error {
	if _, err := tx.NewDelete().Model((*NonceSeenModel)(nil)).Where("device_uid = ?", uid).Exec(ctx); err != nil {
		return MapDBError(err)
	}
	if _, err := tx.NewDelete().Model((*CredentialModel)(nil)).Where("device_uid = ?", uid).Exec(ctx); err != nil {
		return MapDBError(err)
	}
	return nil
}

// NonceState returns the counter state of the device's current credential.
func (s *Store) NonceState(ctx context.Context, uid string) (model.NonceState, error) {
	var m CredentialModel
	err := s.bun.NewSelect().Model(&m).
		Column("device_uid", "generation", "last_counter").
		Where("device_uid = ?", uid).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return model.NonceState{}, MapDBError(err)
	}
	return model.NonceState{DeviceUID: m.DeviceUID, Generation: m.Generation, LastCounter: uint64(m.LastCounter)}, nil
}

// AdvanceCounter is a compare-and-swap on the stored counter: it succeeds
// only while generation is current and counter is strictly greater than the
// stored value. A false result means the counter was not admitted.
func (s *Store) AdvanceCounter(ctx context.Context, uid string, generation int64, counter uint64) (bool, error) {
	if counter > math.MaxInt64 {
		return false, fmt.Errorf("counter %d out of range", counter)
	}
	res, err := s.bun.NewUpdate().Model((*CredentialModel)(nil)).
		Set("last_counter = ?", int64(counter)).
		Where("device_uid = ?", uid).
		Where("generation = ?", generation).
		Where("last_counter < ?", int64(counter)).
		Exec(ctx)
	if err != nil {
		return false, MapDBError(err)
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// NonceSeen reports whether digest was admitted for the device at or after since.
func (s *Store) NonceSeen(ctx context.Context, uid, digest string, since time.Time) (bool, error) {
	n, err := s.bun.NewSelect().Model((*NonceSeenModel)(nil)).
		Where("device_uid = ?", uid).
		Where("nonce_digest = ?", digest).
		Where("seen_at >= ?", toNanos(since)).
		Count(ctx)
	if err != nil {
		return false, MapDBError(err)
	}
	return n > 0, nil
}

// RecordNonce stores an admitted windowed nonce. An expired row for the same
// digest is replaced; a live one yields ErrDuplicate. If the credential
// generation changed since the caller loaded it, ErrStale is returned and
// nothing is written.
func (s *Store) RecordNonce(ctx context.Context, uid string, generation int64, digest string, seenAt, expiredBefore time.Time) error {
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Taking the credential row first serializes writers for the same
		// device on engines with row locks and pins the generation.
		res, err := tx.NewUpdate().Model((*CredentialModel)(nil)).
			Set("generation = generation").
			Where("device_uid = ?", uid).
			Where("generation = ?", generation).
			Exec(ctx)
		if err != nil {
			return MapDBError(err)
		}
		if n, _ := affected(res); n == 0 {
			return ErrStale
		}
		if _, err := tx.NewDelete().Model((*NonceSeenModel)(nil)).
			Where("device_uid = ?", uid).
			Where("nonce_digest = ?", digest).
			Where("seen_at < ?", toNanos(expiredBefore)).
			Exec(ctx); err != nil {
			return MapDBError(err)
		}
		m := &NonceSeenModel{DeviceUID: uid, NonceDigest: digest, Generation: generation, SeenAt: toNanos(seenAt)}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return MapDBError(err)
		}
		return nil
	})
}

// PruneNonces evicts seen nonces older than before and returns how many were removed.
func (s *Store) PruneNonces(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.bun.NewDelete().Model((*NonceSeenModel)(nil)).Where("seen_at < ?", toNanos(before)).Exec(ctx)
	if err != nil {
		return 0, MapDBError(err)
	}
	return affected(res)
}
