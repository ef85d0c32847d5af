package chunkgo_test

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/hupe1980/chunkgo"
)

// sliceReader serves an in-memory byte slice as fixed-size chunks.
type sliceReader struct {
	name string
	data []byte
}

func (r *sliceReader) ChunkSize() int          { return 4096 }
func (r *sliceReader) Size() int64             { return int64(len(r.data)) }
func (r *sliceReader) Path() string            { return r.name }
func (r *sliceReader) CRCCheckChance() float64 { return 0 }
func (r *sliceReader) Close() error            { return nil }

func (r *sliceReader) ReadChunk(_ context.Context, position int64, p []byte) (int, error) {
	if position >= int64(len(r.data)) {
		return 0, io.EOF
	}
	return copy(p, r.data[position:]), nil
}

func Example() {
	cc, err := chunkgo.New(chunkgo.WithCapacity(16 << 20))
	if err != nil {
		log.Fatal(err)
	}
	defer cc.Close()

	payload := []byte("hello, chunk cache")
	data := make([]byte, 8192)
	copy(data[4096:], payload)

	rb := cc.MaybeWrap(&sliceReader{name: "example.db", data: data})
	defer rb.Close()

	// Any position inside the chunk returns the chunk-aligned buffer.
	buf, err := rb.Rebuffer(context.Background(), 4100)
	if err != nil {
		log.Fatal(err)
	}
	defer buf.Release()

	fmt.Println(string(buf.Bytes()[:len(payload)]))
	fmt.Println(buf.Offset())
	// Output:
	// hello, chunk cache
	// 4096
}

func ExampleCache_InvalidateFile() {
	cc, err := chunkgo.New(chunkgo.WithCapacity(16 << 20))
	if err != nil {
		log.Fatal(err)
	}
	defer cc.Close()

	rb := cc.MaybeWrap(&sliceReader{name: "users.db", data: make([]byte, 4096)})
	defer rb.Close()

	buf, err := rb.Rebuffer(context.Background(), 0)
	if err != nil {
		log.Fatal(err)
	}
	buf.Release()
	fmt.Println(cc.SizeOfFile("users.db"))

	// The file was compacted away; drop its chunks.
	cc.InvalidateFile("users.db")
	fmt.Println(cc.SizeOfFile("users.db"))
	// Output:
	// 4096
	// 0
}
