package app

import (
	"context"

	"github.com/papapumpkin/corona/internal/backup"
)

// Backup returns a backup of the state directory kept in the configured
// store.
func (a *App) Backup(ctx context.Context) (*backup.Backup, error) {
	b := a.cfg.Backup
	var store backup.Store
	switch b.Driver {
	case "s3":
		s3, err := backup.NewS3Store(ctx, backup.S3Config{
			Bucket:    b.Bucket,
			Prefix:    b.Prefix,
			Region:    b.Region,
			Endpoint:  b.Endpoint,
			PathStyle: b.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		store = s3
	default:
		store = backup.NewFSStore(b.Dir)
	}
	return backup.New(store, a.cfg.Home), nil
}

// Push archives every state and profile item file.
func (a *App) Push(ctx context.Context) (string, int, error) {
	b, err := a.Backup(ctx)
	if err != nil {
		return "", 0, err
	}
	return b.Push(ctx, a.BackupFiles())
}

// Restore pulls the archive stored under key, or the newest one when key is
// empty, and reloads every domain from the restored files. The runtime
// config is not regenerated.
func (a *App) Restore(ctx context.Context, key string) (string, []string, error) {
	b, err := a.Backup(ctx)
	if err != nil {
		return "", nil, err
	}
	key, restored, err := b.Pull(ctx, key)
	if err != nil {
		return "", nil, err
	}
	a.logger.InfoContext(ctx, "backup restored", "key", key, "files", len(restored))
	return key, restored, a.Reload(ctx)
}
