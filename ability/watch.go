package ability

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates the resolver's cache whenever one of the given files
// changes. It is meant for policy or schema documents whose edits should
// take effect without a process restart. The watch stops when ctx is
// done or the returned stop function is called.
func (r *Resolver) Watch(ctx context.Context, paths ...string) (stop func() error, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			w.Close()
			return nil, err
		}
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Remove) {
					r.InvalidateAll(ctx)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return w.Close, nil
}
