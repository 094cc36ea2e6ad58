// Package checkpoint persists master weights and algo state between runs.
//
// A checkpoint with identifier <base>-epoch<E> is two blobs, <id>.weights and
// <id>.algo. The blob <base>.latest lists identifiers one per line, most
// recent last.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/absmach/gradsync/algo"
	pkgerrors "github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/weights"
	"github.com/fxamacker/cbor/v2"
)

const (
	WeightsExt = ".weights"
	AlgoExt    = ".algo"
	LatestExt  = ".latest"
)

type Record struct {
	Epoch   int
	Weights weights.Weights
	State   algo.State
}

type algoFile struct {
	Epoch int        `cbor:"1,keyasint"`
	State algo.State `cbor:"2,keyasint"`
}

// ID is the identifier of the checkpoint taken after epoch.
func ID(base string, epoch int) string {
	return fmt.Sprintf("%s-epoch%d", base, epoch)
}

type Checkpointer struct {
	store  Store
	base   string
	logger *slog.Logger
}

func New(store Store, base string, logger *slog.Logger) *Checkpointer {
	return &Checkpointer{store: store, base: base, logger: logger}
}

// Save writes both snapshots, then appends the identifier to the latest list.
func (c *Checkpointer) Save(ctx context.Context, rec Record) (string, error) {
	id := ID(c.base, rec.Epoch)

	w, err := cbor.Marshal(rec.Weights)
	if err != nil {
		return "", err
	}
	a, err := cbor.Marshal(algoFile{Epoch: rec.Epoch, State: rec.State})
	if err != nil {
		return "", err
	}
	if err := c.store.Put(ctx, id+WeightsExt, w); err != nil {
		return "", err
	}
	if err := c.store.Put(ctx, id+AlgoExt, a); err != nil {
		return "", err
	}

	latest, err := c.store.Get(ctx, c.base+LatestExt)
	if err != nil && !errors.Is(err, pkgerrors.ErrNotFound) {
		return "", err
	}
	latest = append(latest, []byte(id+"\n")...)
	if err := c.store.Put(ctx, c.base+LatestExt, latest); err != nil {
		return "", err
	}

	c.logger.Info("saved checkpoint", slog.String("id", id), slog.Int("epoch", rec.Epoch))

	return id, nil
}

// Resolve maps a user supplied restore path to a checkpoint identifier. A
// trailing ".algo" or ".weights" is dropped; if "<path>.latest" exists its
// last entry wins.
func Resolve(ctx context.Context, store Store, path string) (string, error) {
	path = strings.TrimSuffix(path, AlgoExt)
	path = strings.TrimSuffix(path, WeightsExt)

	latest, err := store.Get(ctx, path+LatestExt)
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		return path, nil
	case err != nil:
		return "", fmt.Errorf("%w: %w", pkgerrors.ErrRestore, err)
	}
	lines := strings.Fields(string(latest))
	if len(lines) == 0 {
		return "", fmt.Errorf("%w: %s%s is empty", pkgerrors.ErrRestore, path, LatestExt)
	}

	return lines[len(lines)-1], nil
}

func Restore(ctx context.Context, store Store, path string) (Record, error) {
	id, err := Resolve(ctx, store, path)
	if err != nil {
		return Record{}, err
	}

	raw, err := store.Get(ctx, id+WeightsExt)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", pkgerrors.ErrRestore, err)
	}
	var rec Record
	if err := cbor.Unmarshal(raw, &rec.Weights); err != nil {
		return Record{}, fmt.Errorf("%w: decode %s%s: %w", pkgerrors.ErrRestore, id, WeightsExt, err)
	}

	raw, err = store.Get(ctx, id+AlgoExt)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", pkgerrors.ErrRestore, err)
	}
	var af algoFile
	if err := cbor.Unmarshal(raw, &af); err != nil {
		return Record{}, fmt.Errorf("%w: decode %s%s: %w", pkgerrors.ErrRestore, id, AlgoExt, err)
	}
	rec.Epoch = af.Epoch
	rec.State = af.State

	return rec, nil
}
