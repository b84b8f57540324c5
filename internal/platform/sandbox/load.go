package sandbox

import (
	"bytes"
	"context"

	"github.com/Fiesterolml/gestioncitas-app/internal/store"
	"github.com/Fiesterolml/gestioncitas-app/internal/transfer"
)

// Load writes b through the regular import path, so demo data gets the same
// timestamps and defaults as an imported backup.
func Load(ctx context.Context, im *transfer.Importer, ns store.Namespace, b *transfer.Backup) (transfer.Report, error) {
	data, err := b.Encode()
	if err != nil {
		return transfer.Report{}, err
	}
	f, err := transfer.Parse(bytes.NewReader(data))
	if err != nil {
		return transfer.Report{}, err
	}
	return im.Import(ctx, ns, f)
}
