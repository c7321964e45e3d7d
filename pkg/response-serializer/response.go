package serializer

import (
	"fmt"
	"io"
	"strconv"
)

const statusLine = "HTTP/1.0 200 OK\r\n"

// Header returns the synthetic response header for a cached body of the given size.
//
//	HTTP/1.0 200 OK\r\n
//	Content-Length: N\r\n
//	\r\n
func Header(size int64) []byte {
	b := make([]byte, 0, len(statusLine)+32)
	b = append(b, statusLine...)
	b = append(b, "Content-Length: "...)
	b = strconv.AppendInt(b, size, 10)
	b = append(b, "\r\n\r\n"...)
	return b
}

// WriteResponse writes the synthetic header followed by exactly size bytes of body.
// It returns the total number of bytes written, header included.
func WriteResponse(w io.Writer, size int64, body io.Reader) (int64, error) {
	n, err := w.Write(Header(size))
	total := int64(n)
	if err != nil {
		return total, err
	}
	copied, err := io.CopyN(w, body, size)
	total += copied
	if err == io.EOF {
		return total, fmt.Errorf("body shorter than %d bytes: %w", size, io.ErrUnexpectedEOF)
	}
	return total, err
}
