package discfs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqooid/discfs/aead"
	"github.com/sqooid/discfs/metadata"
	"github.com/sqooid/discfs/transport"
	"github.com/sqooid/discfs/transport/mirror"
)

// blockSize is the largest plaintext chunk that still fits under the
// transport's content limit once AEAD overhead is added.
var blockSize = transport.BlockSize(aead.Overhead)

// chunkWriter accumulates plaintext into block-sized buffers, encrypting
// and posting each full block as a reply to the previous one. A chunkWriter
// is used for exactly one open-for-write lifecycle of one node: created on
// open, fed by zero or more Write calls, finalized by one Flush, then
// discarded.
//
// A chunkWriter holds no context.Context of its own: jacobsa/fuse cancels
// each callback's context as soon as that callback replies, so a context
// captured at open time would already be dead by the time the next Write
// arrived. Every method below takes the calling callback's own ctx instead.
type chunkWriter struct {
	channel string
	nodeID  uint64

	codec     *aead.Codec
	transport *transport.Client
	mirror    *mirror.Set
	store     *metadata.Store
	log       zerolog.Logger

	buf           []byte
	totalSize     uint64
	lastMessageID string
	opened        time.Time
}

func newChunkWriter(nodeID uint64, channel string, codec *aead.Codec, tc *transport.Client, ms *mirror.Set, store *metadata.Store, log zerolog.Logger) *chunkWriter {
	return &chunkWriter{
		channel:   channel,
		nodeID:    nodeID,
		codec:     codec,
		transport: tc,
		mirror:    ms,
		store:     store,
		log:       log,
		buf:       make([]byte, 0, blockSize),
		opened:    time.Now(),
	}
}

// Write buffers p, posting one encrypted block if p fills the buffer past
// blockSize. A single Write call never triggers more than one upload;
// excess bytes beyond one full block stay buffered until the next call.
func (w *chunkWriter) Write(ctx context.Context, p []byte) (int, error) {
	w.totalSize += uint64(len(p))

	if len(w.buf)+len(p) <= blockSize {
		w.buf = append(w.buf, p...)
		return len(p), nil
	}

	space := blockSize - len(w.buf)
	w.buf = append(w.buf, p[:space]...)
	if err := w.postBlock(ctx); err != nil {
		return 0, err
	}
	w.buf = append(w.buf, p[space:]...)

	return len(p), nil
}

func (w *chunkWriter) postBlock(ctx context.Context) error {
	sealed, err := w.codec.Seal(w.buf)
	if err != nil {
		return err
	}

	id, err := w.transport.Post(ctx, w.channel, sealed, w.lastMessageID)
	if err != nil {
		return err
	}
	w.lastMessageID = id
	w.buf = w.buf[:0]

	if w.mirror != nil {
		if err := w.mirror.Put(ctx, id, sealed); err != nil {
			w.log.Warn().Err(err).Str("message_id", id).Msg("mirror put failed")
		}
	}
	return nil
}

// Flush posts any remaining buffered bytes as the final block and, if at
// least one block was ever posted, commits the chain head and final size to
// metadata. A file that never received a Write leaves chain_head unset.
func (w *chunkWriter) Flush(ctx context.Context) error {
	if len(w.buf) > 0 {
		if err := w.postBlock(ctx); err != nil {
			return err
		}
	}
	if w.lastMessageID == "" {
		return nil
	}
	return w.store.SetChainHead(ctx, w.nodeID, w.lastMessageID, w.totalSize)
}

// Finish logs throughput for the completed write, for operational
// visibility only.
func (w *chunkWriter) Finish() {
	elapsed := time.Since(w.opened)
	w.log.Debug().
		Uint64("node_id", w.nodeID).
		Uint64("bytes", w.totalSize).
		Dur("elapsed", elapsed).
		Msg("file write finished")
}
