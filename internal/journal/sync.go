package journal

import (
	"context"
	"log/slog"

	"github.com/starford/blockpatch/internal/storage"
)

// Sync walks the documents directory and brings the journal up to date:
//   - new/changed documents are decoded and their values saved
//   - documents removed from disk are deleted from the journal
func Sync(ctx context.Context, db Journal, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List()
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.ID] = struct{}{}

		if checksums[m.ID] == m.Checksum {
			continue
		}

		v, _, err := storage.Load(store, m.ID)
		if err != nil {
			logger.Warn("sync: load failed", slog.String("doc", m.ID), slog.String("error", err.Error()))
			continue
		}
		if _, err := db.SaveValue(ctx, m.ID, v); err != nil {
			logger.Warn("sync: save failed", slog.String("doc", m.ID), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: journaled", slog.String("doc", m.ID))
		}
	}

	for id := range checksums {
		if _, ok := disk[id]; !ok {
			if err := db.DeleteDocument(ctx, id); err != nil {
				logger.Warn("sync: delete failed", slog.String("doc", id), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("doc", id))
			}
		}
	}

	return nil
}
