// Package discfs implements a FUSE filesystem whose file content lives in
// block chains posted to a chat service channel, with directory structure
// and bookkeeping kept in a local SQLite metadata store.
package discfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/rs/zerolog"

	"github.com/sqooid/discfs/aead"
	"github.com/sqooid/discfs/metadata"
	"github.com/sqooid/discfs/timeutil"
	"github.com/sqooid/discfs/transport"
	"github.com/sqooid/discfs/transport/mirror"
)

// zoneIdentifierSuffix matches the NTFS alternate-data-stream marker files
// (name:Zone.Identifier) that some clients probe for; they carry no useful
// content here and are rejected outright rather than silently created.
const zoneIdentifierSuffix = "Zone.Identifier"

type dirHandle struct {
	entries []fuseutil.Dirent
}

// FileSystem is a fuseutil.FileSystem backed by a metadata.Store and a
// transport.Client. Every kernel callback runs to completion on the
// goroutine jacobsa/fuse hands it; the dispatcher never spawns further
// goroutines of its own for the reply path.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	store     *metadata.Store
	transport *transport.Client
	mirror    *mirror.Set
	codec     *aead.Codec
	channel   string
	log       zerolog.Logger

	mu           sync.Mutex
	nextHandleID fuseops.HandleID
	writers      map[fuseops.HandleID]*chunkWriter
	readers      map[fuseops.HandleID]*chunkReader
	dirHandles   map[fuseops.HandleID]dirHandle
}

// New builds a FileSystem on top of an already-open metadata store and
// transport client. mirrorSet may be nil, in which case mirroring is
// inert.
func New(store *metadata.Store, tc *transport.Client, mirrorSet *mirror.Set, codec *aead.Codec, channel string, log zerolog.Logger) *FileSystem {
	return &FileSystem{
		store:     store,
		transport: tc,
		mirror:    mirrorSet,
		codec:     codec,
		channel:   channel,
		log:       log,

		writers:    make(map[fuseops.HandleID]*chunkWriter),
		readers:    make(map[fuseops.HandleID]*chunkReader),
		dirHandles: make(map[fuseops.HandleID]dirHandle),
	}
}

func (fs *FileSystem) issueHandle() fuseops.HandleID {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	id := fs.nextHandleID
	fs.nextHandleID++
	return id
}

func attributesOf(nd *metadata.Node) fuseops.InodeAttributes {
	return timeutil.Attributes(nd.Size, nd.Directory, timeutil.FromUnix(nd.Ctime), timeutil.FromUnix(nd.Atime))
}

func (fs *FileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	op.BlockSize = 1 << 17
	op.Blocks = 1 << 33
	op.BlocksFree = op.Blocks
	op.BlocksAvailable = op.Blocks

	op.Inodes = 1 << 50
	op.InodesFree = op.Inodes

	op.IoSize = 1 << 20

	return nil
}

func (fs *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	nd, err := fs.store.Get(ctx, uint64(op.Parent), op.Name)
	if err != nil {
		return errno(err)
	} else if nd == nil {
		return fuse.ENOENT
	}

	op.Entry.Child = fuseops.InodeID(nd.ID)
	op.Entry.Attributes = attributesOf(nd)
	op.Entry.AttributesExpiration = timeutil.Expiration()
	op.Entry.EntryExpiration = timeutil.Expiration()

	return nil
}

func (fs *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	nd, err := fs.store.GetByID(ctx, uint64(op.Inode))
	if err != nil {
		return errno(err)
	} else if nd == nil {
		return fuse.ENOENT
	}

	op.Attributes = attributesOf(nd)
	op.AttributesExpiration = timeutil.Expiration()

	return nil
}

func (fs *FileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	nd, err := fs.store.GetByID(ctx, uint64(op.Inode))
	if err != nil {
		return errno(err)
	} else if nd == nil {
		return fuse.ENOENT
	}

	// Size/mode/mtime changes aren't modeled: content is immutable once
	// flushed and permissions are fixed. Just echo back current attributes.
	op.Attributes = attributesOf(nd)
	op.AttributesExpiration = timeutil.Expiration()

	return nil
}

func (fs *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fs *FileSystem) mkNode(ctx context.Context, parent fuseops.InodeID, name string, directory bool) (*metadata.Node, error) {
	if strings.HasSuffix(name, zoneIdentifierSuffix) {
		return nil, EUnknown
	}

	nd, err := fs.store.Create(ctx, uint64(parent), name, directory, timeutil.ToUnix(timeutil.Now()))
	if err != nil {
		return nil, errno(err)
	}
	return nd, nil
}

func (fs *FileSystem) entryFor(nd *metadata.Node) fuseops.ChildInodeEntry {
	return fuseops.ChildInodeEntry{
		Child:                fuseops.InodeID(nd.ID),
		Attributes:           attributesOf(nd),
		AttributesExpiration: timeutil.Expiration(),
		EntryExpiration:      timeutil.Expiration(),
	}
}

func (fs *FileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	nd, err := fs.mkNode(ctx, op.Parent, op.Name, true)
	if err != nil {
		return err
	}
	op.Entry = fs.entryFor(nd)
	return nil
}

func (fs *FileSystem) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	nd, err := fs.mkNode(ctx, op.Parent, op.Name, false)
	if err != nil {
		return err
	}
	op.Entry = fs.entryFor(nd)
	return nil
}

func (fs *FileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	nd, err := fs.mkNode(ctx, op.Parent, op.Name, false)
	if err != nil {
		return err
	}
	op.Entry = fs.entryFor(nd)

	handleID := fs.issueHandle()
	w := newChunkWriter(nd.ID, fs.channel, fs.codec, fs.transport, fs.mirror, fs.store, fs.log)

	fs.mu.Lock()
	fs.writers[handleID] = w
	fs.mu.Unlock()

	op.Handle = handleID
	return nil
}

func (fs *FileSystem) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	if op.OldParent == op.NewParent && op.OldName == op.NewName {
		return nil
	}
	if err := fs.store.Move(ctx, uint64(op.OldParent), op.OldName, uint64(op.NewParent), op.NewName); err != nil {
		return errno(err)
	}
	return nil
}

func (fs *FileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	if err := fs.store.Delete(ctx, uint64(op.Parent), op.Name, true); err != nil {
		return errno(err)
	}
	return nil
}

func (fs *FileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	if err := fs.store.Delete(ctx, uint64(op.Parent), op.Name, false); err != nil {
		return errno(err)
	}
	return nil
}

func (fs *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	nd, err := fs.store.GetByID(ctx, uint64(op.Inode))
	if err != nil {
		return errno(err)
	} else if nd == nil {
		return fuse.ENOENT
	} else if !nd.Directory {
		return fuse.ENOTDIR
	}

	children, err := fs.store.ListChildren(ctx, uint64(op.Inode))
	if err != nil {
		return errno(err)
	}

	entries := make([]fuseutil.Dirent, 0, len(children))
	for i, child := range children {
		kind := fuseutil.DT_File
		if child.Directory {
			kind = fuseutil.DT_Directory
		}
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fuseops.InodeID(child.ID),
			Name:   child.Name,
			Type:   kind,
		})
	}

	handleID := fs.issueHandle()
	fs.mu.Lock()
	fs.dirHandles[handleID] = dirHandle{entries: entries}
	fs.mu.Unlock()

	op.Handle = handleID
	return nil
}

func (fs *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	handle, ok := fs.dirHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fmt.Errorf("discfs: unknown directory handle %v", op.Handle)
	}

	idx := int(op.Offset)
	if idx > len(handle.entries) {
		return fuse.EINVAL
	}

	for i := idx; i < len(handle.entries); i++ {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], handle.entries[i])
		if n == 0 {
			break
		}
		op.BytesRead += n
	}

	return nil
}

func (fs *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.dirHandles[op.Handle]; !ok {
		return fmt.Errorf("discfs: unknown directory handle %v", op.Handle)
	}
	delete(fs.dirHandles, op.Handle)
	return nil
}

func (fs *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	nd, err := fs.store.GetByID(ctx, uint64(op.Inode))
	if err != nil {
		return errno(err)
	} else if nd == nil {
		return fuse.ENOENT
	} else if nd.Directory {
		return fuse.EINVAL
	}

	handleID := fs.issueHandle()

	if op.OpenFlags.IsWriteOnly() || op.OpenFlags.IsReadWrite() {
		w := newChunkWriter(nd.ID, fs.channel, fs.codec, fs.transport, fs.mirror, fs.store, fs.log)
		fs.mu.Lock()
		fs.writers[handleID] = w
		fs.mu.Unlock()
	} else {
		r, err := newChunkReader(ctx, fs.channel, nd.ChainHead, fs.transport, fs.codec, fs.log)
		if err != nil {
			return EUnknown
		}
		fs.mu.Lock()
		fs.readers[handleID] = r
		fs.mu.Unlock()
	}

	op.Handle = handleID
	return nil
}

func (fs *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	r, ok := fs.readers[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fuse.ENOENT
	}

	n, err := r.Read(ctx, op.Dst)
	op.BytesRead = n
	if err != nil && !errors.Is(err, io.EOF) {
		return EUnknown
	}
	return nil
}

func (fs *FileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	w, ok := fs.writers[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fuse.ENOENT
	}

	if _, err := w.Write(ctx, op.Data); err != nil {
		return EUnknown
	}
	return nil
}

func (fs *FileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return nil
}

func (fs *FileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	w, isWriter := fs.writers[op.Handle]
	r, isReader := fs.readers[op.Handle]
	delete(fs.writers, op.Handle)
	delete(fs.readers, op.Handle)
	fs.mu.Unlock()

	switch {
	case isWriter:
		if err := w.Flush(ctx); err != nil {
			return EUnknown
		}
		w.Finish()
	case isReader:
		r.Finish()
	default:
		return fuse.ENOENT
	}

	return nil
}
