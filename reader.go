package discfs

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/sqooid/discfs/aead"
	"github.com/sqooid/discfs/transport"
)

// ErrChainNotSet is returned when a file is opened for reading before any
// data has ever been written to it (chain_head is still unset).
var ErrChainNotSet = errors.New("discfs: file has no content chain")

// chunkReader reconstructs a file's plaintext by walking its block chain
// head-to-tail, decrypting each block as it's fetched. It's used for
// exactly one open-for-read lifecycle of one node.
//
// Like chunkWriter, a chunkReader holds no context.Context of its own past
// construction: the initial chain walk below runs synchronously inside the
// OpenFile callback, so it's safe to use that callback's ctx, but every
// later Read call gets its own fresh ctx from the ReadFile callback that
// invokes it — jacobsa/fuse cancels OpenFile's ctx the moment OpenFile
// replies, well before later reads happen.
type chunkReader struct {
	channel   string
	transport *transport.Client
	codec     *aead.Codec

	chain        []string
	currentIndex int
	fetchBuf     bytes.Buffer
	leftover     []byte

	log zerolog.Logger
}

func newChunkReader(ctx context.Context, channel, chainHead string, tc *transport.Client, codec *aead.Codec, log zerolog.Logger) (*chunkReader, error) {
	if chainHead == "" {
		return nil, ErrChainNotSet
	}

	chain, err := tc.GetChain(ctx, channel, chainHead)
	if err != nil {
		return nil, err
	}

	return &chunkReader{
		channel:   channel,
		transport: tc,
		codec:     codec,
		chain:     chain,
		log:       log,
	}, nil
}

// Finish logs how much of the chain was consumed, for operational
// visibility only.
func (r *chunkReader) Finish() {
	r.log.Debug().
		Int("blocks_total", len(r.chain)).
		Int("blocks_read", r.currentIndex).
		Msg("file read finished")
}

// Read fills out with up to len(out) bytes of plaintext, in chain order. It
// returns (0, io.EOF) once the chain is exhausted and no leftover bytes
// remain. A single call drains at most one leftover buffer or fetches
// blocks until out is full or the chain runs out, whichever comes first.
func (r *chunkReader) Read(ctx context.Context, out []byte) (int, error) {
	if len(r.leftover) > 0 {
		n := copy(out, r.leftover)
		r.leftover = r.leftover[n:]
		return n, nil
	}

	copied := 0
	for copied < len(out) && r.currentIndex < len(r.chain) {
		if err := r.transport.Fetch(ctx, r.channel, r.chain[r.currentIndex], &r.fetchBuf); err != nil {
			return copied, err
		}
		r.currentIndex++

		plaintext, err := r.codec.Open(r.fetchBuf.Bytes())
		if err != nil {
			return copied, err
		}

		n := copy(out[copied:], plaintext)
		copied += n
		if n < len(plaintext) {
			r.leftover = append([]byte(nil), plaintext[n:]...)
		}
	}

	if copied == 0 && r.currentIndex >= len(r.chain) {
		return 0, io.EOF
	}
	return copied, nil
}
