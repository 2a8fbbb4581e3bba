package lifecycle

import (
	"bytes"
	"io"
	"time"
)

func nowStamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
