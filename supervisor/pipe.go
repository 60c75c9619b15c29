package supervisor

import (
	"io"
	"os"
	"time"
)

// handshakePipe wraps the anonymous pipe a worker uses exactly once to
// transmit its connection info. The read end stays with the supervisor,
// the write end is inherited by the child and must be closed in the
// parent right after spawn, otherwise EOF is never observed.
type handshakePipe struct {
	r *os.File
	w *os.File
}

func newHandshakePipe() (*handshakePipe, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}

	return &handshakePipe{r: r, w: w}, nil
}

// writeFile returns the write end, to be passed to the child process
// via ExtraFiles.
func (p *handshakePipe) writeFile() *os.File {
	return p.w
}

// sealWrite closes the parent's copy of the write end. Must be called
// once the child has been started.
func (p *handshakePipe) sealWrite() error {
	if p.w == nil {
		return nil
	}

	err := p.w.Close()
	p.w = nil

	return err
}

type pipeResult struct {
	data []byte
	err  error
}

// read drains the pipe to EOF, bounded by the given timeout. An EOF with
// an empty payload is reported as such, not as a timeout. On timeout the
// pending read is unblocked via a read deadline and ErrHandshakeTimeout
// is returned.
func (p *handshakePipe) read(timeout time.Duration) ([]byte, error) {
	done := make(chan pipeResult, 1)

	go func() {
		data, err := io.ReadAll(p.r)
		done <- pipeResult{data: data, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.data, res.err
	case <-timer.C:
		// unblock the reader goroutine
		p.r.SetReadDeadline(time.Now())
		return nil, ErrHandshakeTimeout
	}
}

// Close closes the read end of the pipe.
func (p *handshakePipe) Close() error {
	return p.r.Close()
}
