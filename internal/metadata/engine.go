// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metadata implements the six MFS file-system operations over a
// *diskimage.Image: inode allocation, data-block allocation, directory-
// entry scan/insert/remove, and empty-directory detection. There is no
// package-level state; an Engine is constructed over the image it
// operates on (NewEngine), so it can be exercised against a temp-file
// image in tests without a server or network in the loop.
package metadata

import (
	"fmt"

	"github.com/clarkzinzow/mfs/internal/diskimage"
	"github.com/clarkzinzow/mfs/internal/layout"
)

// RC mirrors wire.RC without importing the wire package, keeping the
// engine ignorant of the protocol that carries its results.
type RC int32

const (
	Success RC = 0
	Failure RC = -1
)

// Stat is the (type, size) pair returned by Stat.
type Stat struct {
	Type layout.InodeType
	Size uint32
}

// Engine is the metadata engine bound to one on-disk image.
type Engine struct {
	img *diskimage.Image
}

// NewEngine returns an Engine operating on img.
func NewEngine(img *diskimage.Image) *Engine {
	return &Engine{img: img}
}

func inRange(i int32, n int) bool {
	return i >= 0 && int(i) < n
}

// Lookup returns the inode number bound to name in the directory pinum,
// or Failure if pinum is invalid, not a directory, or name is absent.
func (e *Engine) Lookup(pinum int32, name string) int32 {
	e.img.Lock()
	defer e.img.Unlock()

	if !inRange(pinum, e.img.NumInodes()) {
		return int32(Failure)
	}
	parent := e.img.Inode(int(pinum))
	if parent.Type != layout.TypeDirectory {
		return int32(Failure)
	}

	d, found := e.findEntryLocked(parent, name)
	if !found {
		return int32(Failure)
	}
	return d.Inum
}

// Stat populates type and size for inum.
func (e *Engine) Stat(inum int32) (Stat, RC) {
	e.img.Lock()
	defer e.img.Unlock()

	if !inRange(inum, e.img.NumInodes()) {
		return Stat{}, Failure
	}
	ino := e.img.Inode(int(inum))
	if ino.Type == layout.TypeUnused {
		return Stat{}, Failure
	}
	return Stat{Type: ino.Type, Size: ino.Size}, Success
}

// Read fills out (which must be exactly layout.BSIZE bytes) with the
// contents of block `block` of inum.
func (e *Engine) Read(inum, block int32, out []byte) RC {
	e.img.Lock()
	defer e.img.Unlock()

	if !inRange(inum, e.img.NumInodes()) {
		return Failure
	}
	if !inRange(block, layout.NDIRECT) {
		return Failure
	}
	ino := e.img.Inode(int(inum))
	if ino.Type == layout.TypeUnused {
		return Failure
	}
	addr := ino.Addrs[block]
	if addr == layout.AllOnes {
		return Failure
	}
	if err := e.img.ReadBlock(int64(addr), out); err != nil {
		return Failure
	}
	return Success
}

// Write stores in (exactly layout.BSIZE bytes) as block `block` of inum,
// allocating a fresh data block on first write to that slot.
//
// The block index is validated against NDIRECT, the width of addrs[],
// rather than NBLOCKS: an index past NDIRECT cannot name a slot in any
// inode and must be rejected as out of range rather than indexed.
func (e *Engine) Write(inum, block int32, in []byte) RC {
	e.img.Lock()
	defer e.img.Unlock()

	if !inRange(inum, e.img.NumInodes()) {
		return Failure
	}
	if !inRange(block, layout.NDIRECT) {
		return Failure
	}
	ino := e.img.Inode(int(inum))
	if ino.Type != layout.TypeRegularFile {
		return Failure
	}

	addr := ino.Addrs[block]
	if addr == layout.AllOnes {
		_, newAddr, err := e.allocateDataBlockLocked()
		if err != nil {
			return Failure
		}
		ino.Addrs[block] = newAddr
		ino.Size += layout.BSIZE
		if err := e.img.WriteInode(int(inum), ino); err != nil {
			return Failure
		}
		addr = newAddr
	}

	if err := e.img.WriteBlock(int64(addr), in); err != nil {
		return Failure
	}
	return Success
}

// Create makes a file or directory of the given type named name inside
// directory pinum, returning its inode number, or Failure. Creating a
// name that already exists is idempotent success.
//
// Every allocation that can fail on resource exhaustion (a free inode, a
// free data block for a grown directory, a free data block for a new
// child directory's own contents) is confirmed available before any of
// them actually commits a bitmap bit or a block write. This keeps a
// late failure (e.g. no free inode) from leaving an allocated-but-
// unreferenced block behind, which would violate the invariant that a
// bitmap bit is set iff some inode's addrs[] references it.
func (e *Engine) Create(pinum int32, typ layout.InodeType, name string) int32 {
	e.img.Lock()
	defer e.img.Unlock()

	if !inRange(pinum, e.img.NumInodes()) {
		return int32(Failure)
	}
	if len(name) > layout.NameMax {
		return int32(Failure)
	}
	if typ != layout.TypeDirectory && typ != layout.TypeRegularFile {
		return int32(Failure)
	}
	parent := e.img.Inode(int(pinum))
	if parent.Type != layout.TypeDirectory {
		return int32(Failure)
	}

	if d, found := e.findEntryLocked(parent, name); found {
		return d.Inum
	}

	slot, err := e.findInsertionSlotLocked(parent)
	if err != nil {
		return int32(Failure)
	}
	if slot.full {
		return int32(Failure)
	}

	childInum, err := e.allocateInodeLocked()
	if err != nil {
		return int32(Failure)
	}

	needsGrowthBlock := slot.newAddrsSlot >= 0
	needsChildBlock := typ == layout.TypeDirectory
	required := 0
	if needsGrowthBlock {
		required++
	}
	if needsChildBlock {
		required++
	}
	if !e.freeBlockCountAtLeastLocked(required) {
		return int32(Failure)
	}

	slotAddr, slotIndex := slot.addr, slot.index
	if needsGrowthBlock {
		_, growthAddr, err := e.allocateDataBlockLocked()
		if err != nil {
			return int32(Failure)
		}
		if err := e.writeDirBlockLocked(growthAddr, freeDirentBlock()); err != nil {
			return int32(Failure)
		}
		slotAddr, slotIndex = growthAddr, 0
	}

	child := layout.Dinode{Type: typ}
	for i := range child.Addrs {
		child.Addrs[i] = layout.AllOnes
	}

	if typ == layout.TypeDirectory {
		_, childBlockAddr, err := e.allocateDataBlockLocked()
		if err != nil {
			return int32(Failure)
		}
		child.Addrs[0] = childBlockAddr
		child.Size = layout.BSIZE

		dirents := freeDirentBlock()
		dirents[0] = layout.NewDirent(".", int32(childInum))
		dirents[1] = layout.NewDirent("..", pinum)
		if err := e.writeDirBlockLocked(childBlockAddr, dirents); err != nil {
			return int32(Failure)
		}
	}

	if err := e.img.WriteInode(childInum, child); err != nil {
		return int32(Failure)
	}

	if needsGrowthBlock {
		parent.Addrs[slot.newAddrsSlot] = slotAddr
		parent.Size += layout.BSIZE
	}
	if err := e.img.WriteInode(int(pinum), parent); err != nil {
		return int32(Failure)
	}

	if err := e.insertEntryLocked(slotAddr, slotIndex, layout.NewDirent(name, int32(childInum))); err != nil {
		return int32(Failure)
	}

	return int32(childInum)
}

// Unlink removes name from directory pinum, reclaiming the target's
// inode and data blocks. A missing name is reported as success.
func (e *Engine) Unlink(pinum int32, name string) RC {
	e.img.Lock()
	defer e.img.Unlock()

	if !inRange(pinum, e.img.NumInodes()) {
		return Failure
	}
	parent := e.img.Inode(int(pinum))
	if parent.Type != layout.TypeDirectory {
		return Failure
	}

	entryAddr, entryIndex, d, found := e.findEntryLocationLocked(parent, name)
	if !found {
		return Success
	}

	target := e.img.Inode(int(d.Inum))
	if target.Type == layout.TypeDirectory {
		if !e.directoryIsEmptyLocked(target) {
			return Failure
		}
	}

	if err := e.clearEntryLocked(entryAddr, entryIndex); err != nil {
		return Failure
	}

	for _, a := range target.Addrs {
		if a == layout.AllOnes {
			continue
		}
		if err := e.img.ClearBit(layout.BlockIndex(a)); err != nil {
			return Failure
		}
	}
	target.Type = layout.TypeUnused
	target.Size = 0
	for i := range target.Addrs {
		target.Addrs[i] = layout.AllOnes
	}
	if err := e.img.WriteInode(int(d.Inum), target); err != nil {
		return Failure
	}

	return Success
}

// directoryIsEmptyLocked reports whether dir contains only "." and "..".
func (e *Engine) directoryIsEmptyLocked(dir layout.Dinode) bool {
	for _, addr := range dir.Addrs {
		if addr == layout.AllOnes {
			continue
		}
		dirents, err := e.readDirBlockLocked(addr)
		if err != nil {
			return false
		}
		for _, d := range dirents {
			if d.Inum == layout.InumFree {
				continue
			}
			n := d.NameString()
			if n == "." || n == ".." {
				continue
			}
			return false
		}
	}
	return true
}

// findEntryLocked returns the first occupied entry named name in dir.
func (e *Engine) findEntryLocked(dir layout.Dinode, name string) (layout.Dirent, bool) {
	_, _, d, found := e.findEntryLocationLocked(dir, name)
	return d, found
}

// findEntryLocationLocked is findEntryLocked plus the block address and
// within-block index of the match, so callers can overwrite it in place.
func (e *Engine) findEntryLocationLocked(dir layout.Dinode, name string) (addr uint32, index int, d layout.Dirent, found bool) {
	for _, a := range dir.Addrs {
		if a == layout.AllOnes {
			continue
		}
		dirents, err := e.readDirBlockLocked(a)
		if err != nil {
			continue
		}
		for i, cand := range dirents {
			if cand.Inum != layout.InumFree && cand.NameString() == name {
				return a, i, cand, true
			}
		}
	}
	return 0, 0, layout.Dirent{}, false
}

// insertionSlot describes where a new directory entry should go,
// without having allocated or written anything yet. If full is true,
// the directory has neither a free dirent slot nor a free addrs[]
// index and cannot accept another entry. Otherwise, if newAddrsSlot is
// >= 0, a fresh block must be allocated and its address stored at
// addrs[newAddrsSlot]; addr/index are only meaningful once that block
// exists. If newAddrsSlot < 0, addr/index name a free dirent slot in
// an already-allocated block.
type insertionSlot struct {
	addr         uint32
	index        int
	newAddrsSlot int
	full         bool
}

// findInsertionSlotLocked locates where a new directory entry would go,
// performing no allocation or mutation. Kept separate from actually
// reserving that slot so Create can confirm every resource the
// operation will need (inode, data blocks) before committing any of
// them.
func (e *Engine) findInsertionSlotLocked(dir layout.Dinode) (insertionSlot, error) {
	firstFreeAddrsSlot := -1
	for i, a := range dir.Addrs {
		if a == layout.AllOnes {
			if firstFreeAddrsSlot < 0 {
				firstFreeAddrsSlot = i
			}
			continue
		}
		dirents, err := e.readDirBlockLocked(a)
		if err != nil {
			return insertionSlot{}, err
		}
		for slot, d := range dirents {
			if d.Inum == layout.InumFree {
				return insertionSlot{addr: a, index: slot, newAddrsSlot: -1}, nil
			}
		}
	}

	if firstFreeAddrsSlot < 0 {
		return insertionSlot{full: true}, nil
	}
	return insertionSlot{newAddrsSlot: firstFreeAddrsSlot}, nil
}

// freeBlockCountAtLeastLocked reports whether at least n data blocks
// are currently free, without allocating any of them.
func (e *Engine) freeBlockCountAtLeastLocked(n int) bool {
	if n <= 0 {
		return true
	}
	free := 0
	for i := 0; i < e.img.NumBlocks(); i++ {
		if !e.img.ReadBit(i) {
			free++
			if free >= n {
				return true
			}
		}
	}
	return false
}

// insertEntryLocked overwrites slot `index` of the directory block at
// addr with d.
func (e *Engine) insertEntryLocked(addr uint32, index int, d layout.Dirent) error {
	dirents, err := e.readDirBlockLocked(addr)
	if err != nil {
		return err
	}
	dirents[index] = d
	return e.writeDirBlockLocked(addr, dirents)
}

// clearEntryLocked marks slot `index` of the directory block at addr as
// free, leaving its name bytes untouched per the lifecycle rules in §3.
func (e *Engine) clearEntryLocked(addr uint32, index int) error {
	dirents, err := e.readDirBlockLocked(addr)
	if err != nil {
		return err
	}
	dirents[index].Inum = layout.InumFree
	return e.writeDirBlockLocked(addr, dirents)
}

func freeDirentBlock() [layout.DirentsPerBlock]layout.Dirent {
	var dirents [layout.DirentsPerBlock]layout.Dirent
	for i := range dirents {
		dirents[i] = layout.NewDirent("", layout.InumFree)
	}
	return dirents
}

func (e *Engine) readDirBlockLocked(addr uint32) ([layout.DirentsPerBlock]layout.Dirent, error) {
	var dirents [layout.DirentsPerBlock]layout.Dirent
	buf := make([]byte, layout.BSIZE)
	if err := e.img.ReadBlock(int64(addr), buf); err != nil {
		return dirents, err
	}
	if err := decodeDirents(buf, &dirents); err != nil {
		return dirents, err
	}
	return dirents, nil
}

func (e *Engine) writeDirBlockLocked(addr uint32, dirents [layout.DirentsPerBlock]layout.Dirent) error {
	buf, err := encodeDirents(&dirents)
	if err != nil {
		return err
	}
	return e.img.WriteBlock(int64(addr), buf)
}

// allocateInodeLocked returns the lowest-indexed UNUSED inode.
func (e *Engine) allocateInodeLocked() (int, error) {
	for i := 0; i < e.img.NumInodes(); i++ {
		if e.img.Inode(i).Type == layout.TypeUnused {
			return i, nil
		}
	}
	return 0, fmt.Errorf("metadata: no free inode")
}

// allocateDataBlockLocked returns the index and absolute offset of the
// lowest-indexed free data block, marking it in-use.
func (e *Engine) allocateDataBlockLocked() (int, uint32, error) {
	for i := 0; i < e.img.NumBlocks(); i++ {
		if !e.img.ReadBit(i) {
			if err := e.img.SetBit(i); err != nil {
				return 0, 0, err
			}
			return i, uint32(layout.BlockOffset(i)), nil
		}
	}
	return 0, 0, fmt.Errorf("metadata: no free data block")
}
