package testutil

import (
	"context"
	"os"

	"github.com/jbrannan/flowgate/pkg/downloader"
)

// FakeDownloader writes SizeTotal zero bytes to Dest and reports full
// completion immediately, or returns ScriptedErr once per Run call if set.
type FakeDownloader struct {
	ScriptedErr []error // consumed in order, one per Run call; nil once exhausted
	calls       int
	Runs        []downloader.Request
}

func (f *FakeDownloader) Run(ctx context.Context, req downloader.Request, progress downloader.ProgressFunc) error {
	f.Runs = append(f.Runs, req)
	var err error
	if f.calls < len(f.ScriptedErr) {
		err = f.ScriptedErr[f.calls]
	}
	f.calls++
	if err != nil {
		return err
	}

	data := make([]byte, req.SizeTotal-req.Offset)
	file, oerr := os.OpenFile(req.Dest, os.O_RDWR|os.O_CREATE, 0o644)
	if oerr != nil {
		return oerr
	}
	defer file.Close()
	if _, werr := file.WriteAt(data, req.Offset); werr != nil {
		return werr
	}
	if progress != nil {
		progress(req.SizeTotal, 0)
	}
	return nil
}
