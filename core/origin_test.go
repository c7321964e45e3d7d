package core

import (
	"bufio"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout}).Level(zerolog.DebugLevel)
}

// testOrigin is a raw TCP server that answers every connection with
// scripted chunks, pausing between them so they arrive in separate reads.
type testOrigin struct {
	ln       net.Listener
	chunks   []string
	hold     bool
	accepted int32
	requests chan string
	done     chan struct{}
	wg       sync.WaitGroup
}

func startOrigin(t *testing.T, chunks ...string) *testOrigin {
	return startOriginWith(t, false, chunks...)
}

// startHoldingOrigin does not close connections after the last chunk.
func startHoldingOrigin(t *testing.T, chunks ...string) *testOrigin {
	return startOriginWith(t, true, chunks...)
}

func startOriginWith(t *testing.T, hold bool, chunks ...string) *testOrigin {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	o := &testOrigin{
		ln:       ln,
		chunks:   chunks,
		hold:     hold,
		requests: make(chan string, 16),
		done:     make(chan struct{}),
	}
	o.wg.Add(1)
	go o.serve()
	t.Cleanup(o.Close)
	return o
}

func (o *testOrigin) serve() {
	defer o.wg.Done()
	for {
		conn, err := o.ln.Accept()
		if err != nil {
			return
		}
		atomic.AddInt32(&o.accepted, 1)
		o.wg.Add(1)
		go o.handle(conn)
	}
}

func (o *testOrigin) handle(conn net.Conn) {
	defer o.wg.Done()
	defer conn.Close()
	request := &strings.Builder{}
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		request.WriteString(line)
		if err != nil || line == "\r\n" {
			break
		}
	}
	o.requests <- request.String()
	for i, chunk := range o.chunks {
		if i > 0 {
			time.Sleep(20 * time.Millisecond)
		}
		if _, err := conn.Write([]byte(chunk)); err != nil {
			return
		}
	}
	if o.hold {
		<-o.done
	}
}

func (o *testOrigin) Port() int {
	return o.ln.Addr().(*net.TCPAddr).Port
}

func (o *testOrigin) Accepted() int {
	return int(atomic.LoadInt32(&o.accepted))
}

func (o *testOrigin) Close() {
	select {
	case <-o.done:
		return
	default:
	}
	close(o.done)
	o.ln.Close()
	o.wg.Wait()
}

// closedPort returns a local port nobody listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}
