package multipart

import (
	"errors"
	"io"
	"sync"
)

// handleArena tracks the open input handle of each in-flight part.
// Removing an entry and closing it is one step, so a handle is closed exactly once
// no matter whether the part or the session cleanup gets to it first.
type handleArena struct {
	handles sync.Map // int32 -> io.Closer
}

func (a *handleArena) put(partNumber int32, c io.Closer) {
	a.handles.Store(partNumber, c)
}

func (a *handleArena) release(partNumber int32) error {
	v, ok := a.handles.LoadAndDelete(partNumber)
	if !ok {
		return nil
	}
	return v.(io.Closer).Close()
}

func (a *handleArena) releaseAll() error {
	var errs []error
	a.handles.Range(func(key, _ interface{}) bool {
		if err := a.release(key.(int32)); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

func (a *handleArena) len() int {
	n := 0
	a.handles.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
