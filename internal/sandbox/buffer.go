package sandbox

import (
	"bytes"
	"fmt"
)

// outputBuffer is the growable, ceiling-bounded byte buffer every
// guest-visible write funnels through. Growth doubles the backing
// capacity until maxSize is reached (maxSize == 0 means unbounded); an
// append that would exceed maxSize fails rather than truncating, so
// the caller can still report the bytes already committed.
type outputBuffer struct {
	buf     bytes.Buffer
	maxSize int // 0 = unbounded
	quota   *quotaTable
}

func newOutputBuffer(maxSize int, quota *quotaTable) *outputBuffer {
	return &outputBuffer{maxSize: maxSize, quota: quota}
}

func (o *outputBuffer) len() int {
	return o.buf.Len()
}

func (o *outputBuffer) bytes() []byte {
	return o.buf.Bytes()
}

// reset clears the buffer and the OUTPUT current counter. Used by the
// host between invocations once it has drained the buffer's contents.
func (o *outputBuffer) reset() {
	o.buf.Reset()
	if o.quota != nil {
		o.quota.setCurrent(ResourceOutput, 0)
	}
}

func (o *outputBuffer) wouldExceed(extra int) bool {
	return o.maxSize != 0 && o.buf.Len()+extra > o.maxSize
}

func (o *outputBuffer) commit() {
	if o.quota != nil {
		o.quota.setCurrent(ResourceOutput, uint64(o.buf.Len()))
	}
}

// appendStr is a byte copy of s. Go's []byte already carries its own
// length so there is no need for C-style trailing-NUL bookkeeping.
func (o *outputBuffer) appendStr(s string) error {
	if o.wouldExceed(len(s)) {
		return ErrOutputLimit
	}
	o.buf.WriteString(s)
	o.commit()
	return nil
}

// AppendBytes implements extlibs.OutputAppender, letting extension
// types (circular_buffer) dump raw binary straight into the buffer
// without extlibs needing to import the unexported outputBuffer type.
func (o *outputBuffer) AppendBytes(b []byte) error {
	if o.wouldExceed(len(b)) {
		return ErrOutputLimit
	}
	o.buf.Write(b)
	o.commit()
	return nil
}

func (o *outputBuffer) appendChar(c byte) error {
	if o.wouldExceed(1) {
		return ErrOutputLimit
	}
	o.buf.WriteByte(c)
	o.commit()
	return nil
}

// appendFmt formats, and if the ceiling is too tight to hold the
// result, fails rather than truncating. Go's fmt.Sprintf always
// returns the full formatted string in one call, so there's no
// short-write to retry against — a single format-then-check suffices.
func (o *outputBuffer) appendFmt(format string, args ...interface{}) error {
	s := fmt.Sprintf(format, args...)
	return o.appendStr(s)
}
